package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resultTTL = time.Hour

	barrierKeyPrefix = "workflow:barrier:"
	resultKeyPrefix  = "task:result:"
	revokedKeyPrefix = "job:revoked:"
	heldKeyPrefix    = "job:staged:"
)

// State is the shared coordination store the engine and workers agree
// through: fan-in barrier counters, task results, job revocation flags and
// staged-job holds.
type State interface {
	// BumpBarrier increments a barrier counter and returns the new count.
	BumpBarrier(ctx context.Context, barrierID string) (int, error)
	SetResult(ctx context.Context, taskID string, result []byte) error
	// GetResult returns the stored result and whether one exists yet.
	GetResult(ctx context.Context, taskID string) ([]byte, bool, error)
	Revoke(ctx context.Context, jobID string) error
	IsRevoked(ctx context.Context, jobID string) (bool, error)
	// HoldJob keeps a staged job out of a terminal status while later stages
	// are still being composed. ReleaseJob lifts the hold.
	HoldJob(ctx context.Context, jobID string) error
	ReleaseJob(ctx context.Context, jobID string) error
	IsHeld(ctx context.Context, jobID string) (bool, error)
}

// RedisState is the production State. Results expire after an hour; barrier
// counters and revocation flags expire after a day, comfortably past any
// workflow's lifetime.
type RedisState struct {
	client *redis.Client
}

func NewRedisState(client *redis.Client) *RedisState {
	return &RedisState{client: client}
}

func (s *RedisState) BumpBarrier(ctx context.Context, barrierID string) (int, error) {
	key := barrierKeyPrefix + barrierID
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	s.client.Expire(ctx, key, 24*time.Hour)
	return int(n), nil
}

func (s *RedisState) SetResult(ctx context.Context, taskID string, result []byte) error {
	return s.client.Set(ctx, resultKeyPrefix+taskID, result, resultTTL).Err()
}

func (s *RedisState) GetResult(ctx context.Context, taskID string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, resultKeyPrefix+taskID).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *RedisState) Revoke(ctx context.Context, jobID string) error {
	return s.client.Set(ctx, revokedKeyPrefix+jobID, "1", 24*time.Hour).Err()
}

func (s *RedisState) IsRevoked(ctx context.Context, jobID string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedKeyPrefix+jobID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisState) HoldJob(ctx context.Context, jobID string) error {
	return s.client.Set(ctx, heldKeyPrefix+jobID, "1", 24*time.Hour).Err()
}

func (s *RedisState) ReleaseJob(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, heldKeyPrefix+jobID).Err()
}

func (s *RedisState) IsHeld(ctx context.Context, jobID string) (bool, error) {
	n, err := s.client.Exists(ctx, heldKeyPrefix+jobID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryState backs single-process runs and tests.
type MemoryState struct {
	mu       sync.Mutex
	barriers map[string]int
	results  map[string][]byte
	revoked  map[string]bool
	held     map[string]bool
}

func NewMemoryState() *MemoryState {
	return &MemoryState{
		barriers: make(map[string]int),
		results:  make(map[string][]byte),
		revoked:  make(map[string]bool),
		held:     make(map[string]bool),
	}
}

func (s *MemoryState) BumpBarrier(_ context.Context, barrierID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.barriers[barrierID]++
	return s.barriers[barrierID], nil
}

func (s *MemoryState) SetResult(_ context.Context, taskID string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[taskID] = result
	return nil
}

func (s *MemoryState) GetResult(_ context.Context, taskID string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.results[taskID]
	return v, ok, nil
}

func (s *MemoryState) Revoke(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jobID] = true
	return nil
}

func (s *MemoryState) IsRevoked(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked[jobID], nil
}

func (s *MemoryState) HoldJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held[jobID] = true
	return nil
}

func (s *MemoryState) ReleaseJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, jobID)
	return nil
}

func (s *MemoryState) IsHeld(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[jobID], nil
}
