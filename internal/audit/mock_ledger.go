package audit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockLedger is an in-memory Ledger used by tests across packages. It
// records every insert and supports the same filter semantics as the
// Postgres implementation.
type MockLedger struct {
	mu          sync.Mutex
	Entries     []Entry
	InsertError error
	QueryError  error
	nextID      int64
}

func NewMockLedger() *MockLedger {
	return &MockLedger{
		Entries: make([]Entry, 0),
	}
}

func (m *MockLedger) Insert(_ context.Context, e Entry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InsertError != nil {
		return 0, m.InsertError
	}

	m.nextID++
	e.ID = m.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.Entries = append(m.Entries, e)

	return e.ID, nil
}

func (m *MockLedger) Query(_ context.Context, f Filter) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.QueryError != nil {
		return nil, m.QueryError
	}

	matched := m.match(f)

	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	start := f.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	return &Page{Items: matched[start:end], Total: len(matched)}, nil
}

func (m *MockLedger) ExportCSV(ctx context.Context, f Filter) (string, error) {
	if f.Limit <= 0 {
		f.Limit = 10000
	}

	page, err := m.Query(ctx, f)
	if err != nil {
		return "", err
	}

	return ToCSV(page.Items)
}

func (m *MockLedger) PurgeOlderThan(_ context.Context, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-window)
	kept := m.Entries[:0]
	var deleted int64
	for _, e := range m.Entries {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.Entries = kept

	return deleted, nil
}

func (m *MockLedger) EraseUser(_ context.Context, userID int64, batchSize int) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.Entries[:0]
	var deleted int64
	for _, e := range m.Entries {
		if e.UserID != nil && *e.UserID == userID && deleted < int64(batchSize) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.Entries = kept

	done := true
	for _, e := range m.Entries {
		if e.UserID != nil && *e.UserID == userID {
			done = false
			break
		}
	}

	return deleted, done, nil
}

func (m *MockLedger) ExportUser(_ context.Context, userID int64) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []Entry
	for _, e := range m.Entries {
		if e.UserID != nil && *e.UserID == userID {
			entries = append(entries, e)
		}
	}

	return entries, nil
}

func (m *MockLedger) Close() error {
	return nil
}

// ByEventType returns recorded entries matching one event type.
func (m *MockLedger) ByEventType(eventType string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []Entry
	for _, e := range m.Entries {
		if e.EventType == eventType {
			entries = append(entries, e)
		}
	}

	return entries
}

func (m *MockLedger) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Entries)
}

func (m *MockLedger) match(f Filter) []Entry {
	matched := make([]Entry, 0, len(m.Entries))
	for i := len(m.Entries) - 1; i >= 0; i-- {
		e := m.Entries[i]
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		if f.Source != "" && e.Source != f.Source {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(f.Search)) {
			continue
		}
		if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.CreatedAt.After(f.To) {
			continue
		}
		matched = append(matched, e)
	}

	return matched
}
