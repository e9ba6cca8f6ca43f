// Package jobqueue provides the durable Redis-backed job queue that
// schedules one-off and recurring background work for the pipeline.
// Jobs survive process restarts; the worker claims due jobs by hook name.
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobsKey     = "outpost:jobs"
	jobQueueKey = "outpost:job_queue"
)

// Scheduler is the narrow scheduling contract the pipeline components
// consume. The full Queue implements it; tests substitute recording fakes.
type Scheduler interface {
	ScheduleOnceAt(hookName string, at time.Time, args map[string]any) (*Job, error)
	ScheduleRecurring(hookName string, interval time.Duration, args map[string]any) (*Job, error)
	UnscheduleAll(hookName string) (int, error)
}

type Queue struct {
	client *redis.Client
	ctx    context.Context
}

func NewQueue(redisAddr string) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Queue{
		client: client,
		ctx:    ctx,
	}, nil
}

func (q *Queue) enqueue(job *Job) error {
	jobJSON, err := job.ToJSON()
	if err != nil {
		return err
	}

	if err := q.client.HSet(q.ctx, jobsKey, job.ID, jobJSON).Err(); err != nil {
		return err
	}

	return q.client.ZAdd(q.ctx, jobQueueKey, redis.Z{
		Score:  float64(job.RunAt.Unix()),
		Member: job.ID,
	}).Err()
}

// ScheduleOnceAt enqueues a single firing of hookName at the given time.
func (q *Queue) ScheduleOnceAt(hookName string, at time.Time, args map[string]any) (*Job, error) {
	job := NewJob(hookName, at, args)
	if err := q.enqueue(job); err != nil {
		return nil, err
	}

	return job, nil
}

// ScheduleRecurring enqueues hookName to fire every interval, first run
// one interval from now.
func (q *Queue) ScheduleRecurring(hookName string, interval time.Duration, args map[string]any) (*Job, error) {
	job := NewJob(hookName, time.Now().Add(interval), args)
	job.Interval = interval
	if err := q.enqueue(job); err != nil {
		return nil, err
	}

	return job, nil
}

// UnscheduleAll removes every pending job registered for hookName and
// returns how many were removed.
func (q *Queue) UnscheduleAll(hookName string) (int, error) {
	jobs, err := q.PendingJobs()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, job := range jobs {
		if job.HookName != hookName {
			continue
		}

		q.client.ZRem(q.ctx, jobQueueKey, job.ID)
		q.client.HDel(q.ctx, jobsKey, job.ID)
		removed++
	}

	return removed, nil
}

// Due claims one job whose run time has passed. A recurring job is
// re-enqueued for its next run before the claimed firing is returned,
// so a crashed handler cannot silently kill the schedule.
func (q *Queue) Due() (*Job, error) {
	now := time.Now().Unix()

	results, err := q.client.ZRangeByScore(q.ctx, jobQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now),
		Count: 1,
	}).Result()

	if err != nil || len(results) == 0 {
		return nil, err
	}

	jobID := results[0]

	q.client.ZRem(q.ctx, jobQueueKey, jobID)

	jobJSON, err := q.client.HGet(q.ctx, jobsKey, jobID).Result()
	if err != nil {
		return nil, err
	}

	job, err := JobFromJSON(jobJSON)
	if err != nil {
		return nil, err
	}

	if job.Recurring() {
		next := *job
		next.RunAt = time.Now().Add(job.Interval)
		if err := q.enqueue(&next); err != nil {
			return nil, err
		}
	} else {
		q.client.HDel(q.ctx, jobsKey, jobID)
	}

	return job, nil
}

// PendingJobs returns every job currently scheduled, due or not.
func (q *Queue) PendingJobs() ([]*Job, error) {
	jobMap, err := q.client.HGetAll(q.ctx, jobsKey).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(jobMap))
	for _, jobJSON := range jobMap {
		job, err := JobFromJSON(jobJSON)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// PendingFor returns the pending jobs registered for one hook name.
func (q *Queue) PendingFor(hookName string) ([]*Job, error) {
	jobs, err := q.PendingJobs()
	if err != nil {
		return nil, err
	}

	matched := make([]*Job, 0, len(jobs))
	for _, job := range jobs {
		if job.HookName == hookName {
			matched = append(matched, job)
		}
	}

	return matched, nil
}

// Client exposes the underlying Redis client for components that share
// the connection, such as the circuit breaker and fingerprint store.
func (q *Queue) Client() *redis.Client {
	return q.client
}

func (q *Queue) Close() error {
	return q.client.Close()
}
