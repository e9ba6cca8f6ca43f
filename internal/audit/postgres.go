package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/avetrano/outpost/internal/hooks"
)

const defaultQueryLimit = 50

type PostgresLedger struct {
	db      *sql.DB
	filters *hooks.Registry
}

func NewPostgresLedger(connectionString string, filters *hooks.Registry) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresLedger{db: db, filters: filters}, nil
}

// Insert appends one entry. The pre-insert filter chain may veto it, in
// which case nothing is written and the returned id is 0.
func (l *PostgresLedger) Insert(ctx context.Context, e Entry) (int64, error) {
	if l.filters != nil {
		filtered, ok := l.filters.Apply(hooks.PreInsertAudit, e)
		if !ok {
			return 0, nil
		}
		if typed, ok := filtered.(Entry); ok {
			e = typed
		} else {
			log.Printf("audit filter returned %T, keeping original entry", filtered)
		}
	}

	contextJSON, err := json.Marshal(e.Context)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal entry context: %w", err)
	}

	query := `
		INSERT INTO audit_log (event_type, source, message, context, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id
	`

	var userID any
	if e.UserID != nil {
		userID = *e.UserID
	}

	var id int64
	err = l.db.QueryRowContext(
		ctx,
		query,
		e.EventType,
		e.Source,
		e.Message,
		contextJSON,
		userID,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

func (l *PostgresLedger) Query(ctx context.Context, f Filter) (*Page, error) {
	where, args := buildWhere(f)

	countQuery := "SELECT COUNT(*) FROM audit_log" + where
	var total int
	if err := l.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	query := fmt.Sprintf(`
		SELECT id, event_type, source, message, context, user_id, created_at
		FROM audit_log%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, limit, f.Offset)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	items := make([]Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Page{Items: items, Total: total}, nil
}

func (l *PostgresLedger) ExportCSV(ctx context.Context, f Filter) (string, error) {
	if f.Limit <= 0 {
		f.Limit = 10000
	}

	page, err := l.Query(ctx, f)
	if err != nil {
		return "", err
	}

	return ToCSV(page.Items)
}

// PurgeOlderThan deletes entries past the retention window and returns
// the number removed.
func (l *PostgresLedger) PurgeOlderThan(ctx context.Context, window time.Duration) (int64, error) {
	query := `DELETE FROM audit_log WHERE created_at < NOW() - $1::interval`

	result, err := l.db.ExecContext(ctx, query, fmt.Sprintf("%d seconds", int(window.Seconds())))
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// EraseUser hard-deletes up to batchSize entries tied to userID. done is
// true once no entries remain; callers loop until then.
func (l *PostgresLedger) EraseUser(ctx context.Context, userID int64, batchSize int) (int64, bool, error) {
	query := `
		DELETE FROM audit_log
		WHERE id IN (
			SELECT id FROM audit_log WHERE user_id = $1 ORDER BY id LIMIT $2
		)
	`

	result, err := l.db.ExecContext(ctx, query, userID, batchSize)
	if err != nil {
		return 0, false, err
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, false, err
	}

	var remaining int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log WHERE user_id = $1`, userID).Scan(&remaining); err != nil {
		return deleted, false, err
	}

	return deleted, remaining == 0, nil
}

func (l *PostgresLedger) ExportUser(ctx context.Context, userID int64) ([]Entry, error) {
	query := `
		SELECT id, event_type, source, message, context, user_id, created_at
		FROM audit_log
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := l.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (l *PostgresLedger) DB() *sql.DB {
	return l.db
}

func (l *PostgresLedger) Close() error {
	return l.db.Close()
}

func buildWhere(f Filter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.EventType != "" {
		add("event_type = $%d", f.EventType)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.Search != "" {
		add("message ILIKE $%d", "%"+f.Search+"%")
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}

	if len(conditions) == 0 {
		return "", nil
	}

	where := " WHERE " + conditions[0]
	for _, c := range conditions[1:] {
		where += " AND " + c
	}

	return where, args
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var contextJSON []byte
	var userID sql.NullInt64

	if err := rows.Scan(
		&e.ID,
		&e.EventType,
		&e.Source,
		&e.Message,
		&contextJSON,
		&userID,
		&e.CreatedAt,
	); err != nil {
		return Entry{}, err
	}

	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &e.Context); err != nil {
			return Entry{}, err
		}
	}

	if userID.Valid {
		e.UserID = &userID.Int64
	}

	return e, nil
}
