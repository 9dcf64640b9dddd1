package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasu-devs/Socratis/internal/model"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisCache(rdb, time.Hour)
}

// failingDurable simulates a durable tier that cannot be reached.
type failingDurable struct{ Durable }

func (failingDurable) Get(context.Context, string) (*model.Session, error) {
	return nil, unavailable("get session", errors.New("connection refused"))
}

func TestSessionsReadThrough(t *testing.T) {
	mr, cache := setupTestRedis(t)
	durable := newTestSQLite(t)
	s := NewSessions(durable, cache)
	ctx := context.Background()

	sess := testSession("s1")
	require.NoError(t, s.Create(ctx, sess))
	assert.True(t, mr.Exists(SessionKey("s1")), "Create should populate the cache")
	assert.Equal(t, time.Hour, mr.TTL(SessionKey("s1")))

	// Evict and read again: the durable tier answers and the entry comes back.
	mr.Del(SessionKey("s1"))
	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
	assert.True(t, mr.Exists(SessionKey("s1")), "miss should repopulate the cache")

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionsWriteThrough(t *testing.T) {
	_, cache := setupTestRedis(t)
	s := NewSessions(newTestSQLite(t), cache)
	ctx := context.Background()

	sess := testSession("s1")
	require.NoError(t, s.Create(ctx, sess))

	next := sess.Clone()
	next.Code = "updated"
	next.Version = 1
	require.NoError(t, s.Update(ctx, next, 0))

	cached, err := cache.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "updated", cached.Code)
	assert.Equal(t, int64(1), cached.Version)
}

func TestSessionsConflictRefreshesCache(t *testing.T) {
	_, cache := setupTestRedis(t)
	durable := newTestSQLite(t)
	s := NewSessions(durable, cache)
	ctx := context.Background()

	sess := testSession("s1")
	require.NoError(t, s.Create(ctx, sess))

	// Another process wins the write behind the cache's back.
	winner := sess.Clone()
	winner.CurrentQuestionIndex = 1
	winner.Version = 1
	require.NoError(t, durable.Update(ctx, winner, 0))

	loser := sess.Clone()
	loser.Version = 1
	err := s.Update(ctx, loser, 0)
	require.ErrorIs(t, err, ErrConflict)

	cached, err := cache.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, cached.CurrentQuestionIndex)
}

func TestSessionsCacheFailureDegrades(t *testing.T) {
	mr, cache := setupTestRedis(t)
	s := NewSessions(newTestSQLite(t), cache)
	ctx := context.Background()

	sess := testSession("s1")
	require.NoError(t, s.Create(ctx, sess))

	mr.Close()

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err, "cache outage must not fail reads")
	assert.Equal(t, "s1", got.SessionID)

	next := got.Clone()
	next.Version = 1
	require.NoError(t, s.Update(ctx, next, 0), "cache outage must not fail writes")
}

func TestSessionsDurableFailurePropagates(t *testing.T) {
	s := NewSessions(failingDurable{}, nil)
	_, err := s.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSessionsWithoutCache(t *testing.T) {
	s := NewSessions(newTestSQLite(t), nil)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, testSession("s1")))
	got, err := s.GetFresh(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
	require.NoError(t, s.Ping(ctx))
}
