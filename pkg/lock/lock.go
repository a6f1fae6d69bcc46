// Package lock implements the single-holder, leased locks §4.8
// describes for the two exclusive operations the platform ever runs
// concurrently across replicas: one import at a time and one cleanse
// analysis at a time, each global across all datasets. A lock is a document in the
// DocumentStore rather than an in-memory structure, because any
// replica of the service may attempt to acquire it; the in-process
// bookkeeping (map of active leases, renewal goroutine, expiry check)
// is lifted from the teacher's token manager, generalized from an
// in-memory map of tokens to a document-backed lease record.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/errs"
	"github.com/litp/platform/pkg/log"
	"github.com/litp/platform/pkg/metrics"
)

// Collection is the fixed DocumentStore collection backing every lock.
const Collection = "locks"

// Config controls lease duration, heartbeat cadence, and how long
// Acquire keeps retrying before giving up.
type Config struct {
	LeaseDuration    time.Duration
	HeartbeatPeriod  time.Duration
	AcquireTryWindow time.Duration
}

// Manager acquires and renews named leases against a DocumentStore.
type Manager struct {
	store  docstore.Store
	cfg    Config
	logger zerolog.Logger
}

// NewManager builds a Manager over store using cfg's lease timings.
func NewManager(store docstore.Store, cfg Config) *Manager {
	return &Manager{store: store, cfg: cfg, logger: log.WithComponent("lock")}
}

// record is the document persisted per lock name.
type record struct {
	Name      string    `bson:"_id"`
	HolderID  string    `bson:"holder_id"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// Held represents a currently-held lease. Call Release when the
// protected work completes; the background heartbeat goroutine stops
// automatically. Lost signals that the lease was not renewed in time
// (e.g. the process stalled past the lease duration) — callers doing
// long-running work should select on it and abort.
type Held struct {
	name     string
	holderID string
	mgr      *Manager

	mu     sync.Mutex
	closed bool
	lost   chan struct{}
	lostOnce sync.Once
	stop   chan struct{}
	done   chan struct{}
}

// Lost is closed if the heartbeat fails to renew the lease before it
// expires. The holder no longer owns the lock once this fires.
func (h *Held) Lost() <-chan struct{} { return h.lost }

// Release ends the lease and stops the heartbeat goroutine. Safe to
// call multiple times.
func (h *Held) Release(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	close(h.stop)
	<-h.done

	_, err := h.mgr.store.DeleteMany(ctx, Collection, docstore.Filter{
		"_id":       h.name,
		"holder_id": h.holderID,
	})
	return err
}

// Acquire attempts to take the named lock, retrying within
// AcquireTryWindow whenever the lock is currently held by someone else
// and not yet expired. It returns errs.Conflict if the window elapses
// without success.
func (m *Manager) Acquire(ctx context.Context, name string) (*Held, error) {
	holderID := uuid.NewString()
	deadline := time.Now().Add(m.cfg.AcquireTryWindow)

	for {
		ok, err := m.tryAcquire(ctx, name, holderID)
		if err != nil {
			return nil, err
		}
		if ok {
			return m.startHeartbeat(name, holderID), nil
		}
		if time.Now().After(deadline) {
			metrics.LockAcquireFailuresTotal.WithLabelValues(name).Inc()
			return nil, errs.Newf(errs.Conflict, "lock %q is held by another process", name)
		}

		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.Cancelled, ctx.Err(), "acquire cancelled")
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (m *Manager) tryAcquire(ctx context.Context, name, holderID string) (bool, error) {
	now := time.Now().UTC()
	existing, err := m.store.FindOne(ctx, Collection, docstore.Filter{"_id": name})
	if err != nil && !errs.Is(err, errs.NotFound) {
		return false, err
	}

	if err == nil {
		expiresAt, _ := existing["expires_at"].(time.Time)
		if now.Before(expiresAt) {
			return false, nil
		}
		// Lease expired: fall through and steal it.
		m.logger.Warn().Str("lock", name).Msg("stealing expired lock")
	}

	doc := map[string]any{
		"_id":        name,
		"holder_id":  holderID,
		"expires_at": now.Add(m.cfg.LeaseDuration),
	}
	if err := m.store.Upsert(ctx, Collection, docstore.Filter{"_id": name}, doc); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) startHeartbeat(name, holderID string) *Held {
	h := &Held{
		name:     name,
		holderID: holderID,
		mgr:      m,
		lost:     make(chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(m.cfg.HeartbeatPeriod)
		defer ticker.Stop()
		expiry := time.NewTimer(m.cfg.LeaseDuration)
		defer expiry.Stop()

		for {
			select {
			case <-h.stop:
				return
			case <-expiry.C:
				m.logger.Error().Str("lock", name).Msg("lock lease expired before it was renewed")
				h.lostOnce.Do(func() { close(h.lost) })
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HeartbeatPeriod)
				renewed, err := m.renew(ctx, name, holderID)
				cancel()
				if err != nil || !renewed {
					m.logger.Error().Err(err).Str("lock", name).Msg("failed to renew lock lease")
					h.lostOnce.Do(func() { close(h.lost) })
					return
				}
				expiry.Reset(m.cfg.LeaseDuration)
			}
		}
	}()

	return h
}

func (m *Manager) renew(ctx context.Context, name, holderID string) (bool, error) {
	now := time.Now().UTC()
	doc := map[string]any{
		"_id":        name,
		"holder_id":  holderID,
		"expires_at": now.Add(m.cfg.LeaseDuration),
	}
	res, err := m.store.BulkWrite(ctx, Collection, []docstore.WriteOp{
		{
			Filter: docstore.Filter{"_id": name, "holder_id": holderID},
			Update: doc,
			Upsert: false,
		},
	})
	if err != nil {
		return false, err
	}
	return res.Modified == 1, nil
}
