/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package jobs keeps delayed publish jobs in step with queue positions
// and dispatches them when due. One job exists per post at most; the
// store key is the post id, so a reschedule is a plain upsert.
package jobs

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPublishJobs is the Redis sorted set holding pending publish jobs,
// scored by UTC epoch milliseconds.
const KeyPublishJobs = "skald:jobs:publish"

// Job is a pending publish job for one post.
type Job struct {
	PostID string
	RunAt  time.Time
}

// Store persists delayed publish jobs.
type Store interface {
	// Schedule upserts the job for a post. An existing job for the same
	// post is replaced, never duplicated.
	Schedule(ctx context.Context, postID string, runAt time.Time) error
	// Cancel removes the job for a post. Unknown posts are a no-op.
	Cancel(ctx context.Context, postID string) error
	// Due returns up to limit jobs whose run time is at or before now,
	// earliest first.
	Due(ctx context.Context, now time.Time, limit int) ([]Job, error)
	// Remove deletes dispatched jobs.
	Remove(ctx context.Context, postIDs ...string) error
	Close() error
}

// RedisStore keeps jobs in a Redis sorted set so they survive restarts
// and are shared between instances.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed job store.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Schedule(ctx context.Context, postID string, runAt time.Time) error {
	return s.client.ZAdd(ctx, KeyPublishJobs, redis.Z{
		Score:  float64(runAt.UTC().UnixMilli()),
		Member: postID,
	}).Err()
}

func (s *RedisStore) Cancel(ctx context.Context, postID string) error {
	return s.client.ZRem(ctx, KeyPublishJobs, postID).Err()
}

func (s *RedisStore) Due(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	results, err := s.client.ZRangeByScoreWithScores(ctx, KeyPublishJobs, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UTC().UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]Job, 0, len(results))
	for _, z := range results {
		postID, ok := z.Member.(string)
		if !ok {
			continue
		}
		jobs = append(jobs, Job{
			PostID: postID,
			RunAt:  time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	return jobs, nil
}

func (s *RedisStore) Remove(ctx context.Context, postIDs ...string) error {
	if len(postIDs) == 0 {
		return nil
	}
	members := make([]any, len(postIDs))
	for i, id := range postIDs {
		members[i] = id
	}
	return s.client.ZRem(ctx, KeyPublishJobs, members...).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryStore is an in-process job store for tests and single-node
// deployments without Redis.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]time.Time
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]time.Time)}
}

func (s *MemoryStore) Schedule(_ context.Context, postID string, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[postID] = runAt.UTC()
	return nil
}

func (s *MemoryStore) Cancel(_ context.Context, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, postID)
	return nil
}

func (s *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]Job, 0)
	for id, runAt := range s.jobs {
		if !runAt.After(now) {
			due = append(due, Job{PostID: id, RunAt: runAt})
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) Remove(_ context.Context, postIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range postIDs {
		delete(s.jobs, id)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
