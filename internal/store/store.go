// Package store persists interview sessions in a durable tier with an
// optional fast-path cache in front of it.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vasu-devs/Socratis/internal/metrics"
	"github.com/vasu-devs/Socratis/internal/model"
)

var (
	// ErrNotFound means no session exists for the id.
	ErrNotFound = errors.New("session not found")
	// ErrUnavailable means the durable tier could not be reached.
	ErrUnavailable = errors.New("session store unavailable")
	// ErrConflict means a compare-and-swap write lost to a concurrent writer.
	ErrConflict = errors.New("session modified concurrently")
	// ErrExists means Create was called with an id that is already stored.
	ErrExists = errors.New("session already exists")
)

// Durable is the system of record for sessions.
type Durable interface {
	Create(ctx context.Context, s *model.Session) error
	Get(ctx context.Context, id string) (*model.Session, error)
	// Update writes s only if the stored version equals expectedVersion.
	Update(ctx context.Context, s *model.Session, expectedVersion int64) error
	// ListAwaitingReport returns ids of completed sessions without feedback
	// last updated before the cutoff.
	ListAwaitingReport(ctx context.Context, before time.Time, limit int) ([]string, error)
	List(ctx context.Context, status model.SessionStatus) ([]*model.Session, error)
	Ping(ctx context.Context) error
	Close() error
}

// Cache is the fast-path tier. A miss is reported as (nil, nil).
type Cache interface {
	Get(ctx context.Context, id string) (*model.Session, error)
	Set(ctx context.Context, s *model.Session) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Sessions combines the durable tier with an optional cache. Reads go
// through the cache and repopulate it on a miss; writes go to the durable
// tier first and then update the cache. Cache failures are logged and
// never fail the operation.
type Sessions struct {
	durable Durable
	cache   Cache
}

// NewSessions returns a tiered store. cache may be nil.
func NewSessions(durable Durable, cache Cache) *Sessions {
	return &Sessions{durable: durable, cache: cache}
}

// Get returns the session, preferring the cache.
func (s *Sessions) Get(ctx context.Context, id string) (*model.Session, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, id)
		switch {
		case err != nil:
			metrics.CacheRequests.WithLabelValues("error").Inc()
			slog.Warn("session cache read failed, falling back to durable store", "session_id", id, "error", err)
		case cached != nil:
			metrics.CacheRequests.WithLabelValues("hit").Inc()
			return cached, nil
		default:
			metrics.CacheRequests.WithLabelValues("miss").Inc()
		}
	}

	sess, err := s.durable.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.populate(ctx, sess)
	return sess, nil
}

// GetFresh reads from the durable tier and refreshes the cache.
func (s *Sessions) GetFresh(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.durable.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.populate(ctx, sess)
	return sess, nil
}

// Create stores a new session.
func (s *Sessions) Create(ctx context.Context, sess *model.Session) error {
	if err := s.durable.Create(ctx, sess); err != nil {
		return err
	}
	s.populate(ctx, sess)
	return nil
}

// Update writes sess if the durable version still equals expectedVersion.
// On a conflict the cache is refreshed from the durable tier so the next
// read sees the winning write.
func (s *Sessions) Update(ctx context.Context, sess *model.Session, expectedVersion int64) error {
	if err := s.durable.Update(ctx, sess, expectedVersion); err != nil {
		if errors.Is(err, ErrConflict) {
			if fresh, gerr := s.durable.Get(ctx, sess.SessionID); gerr == nil {
				s.populate(ctx, fresh)
			}
		}
		return err
	}
	s.populate(ctx, sess)
	return nil
}

// Ping checks the durable tier. Cache health is reported but not fatal.
func (s *Sessions) Ping(ctx context.Context) error {
	if err := s.durable.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			slog.Warn("session cache unhealthy", "error", err)
		}
	}
	return nil
}

func (s *Sessions) populate(ctx context.Context, sess *model.Session) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, sess); err != nil {
		slog.Warn("session cache write failed", "session_id", sess.SessionID, "error", err)
		// A stale entry must not outlive a newer durable write.
		if derr := s.cache.Delete(ctx, sess.SessionID); derr != nil {
			slog.Warn("session cache evict failed", "session_id", sess.SessionID, "error", derr)
		}
	}
}

// unavailable wraps a driver error so callers can match ErrUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
