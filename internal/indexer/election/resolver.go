package election

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/resilience"
	"github.com/google/uuid"
)

const (
	DefaultRenewInterval  = 10 * time.Minute
	DefaultStaleThreshold = time.Hour
	DefaultOpTimeout      = 5 * time.Second
)

// Resolver decides whether this process may perform physical writes.
type Resolver interface {
	Start(ctx context.Context) error
	IsExecutive() bool
	// Executive returns the identity of the observed executive, or "" if
	// none is known.
	Executive() string
	Participants() int
	Close(ctx context.Context) error
}

// AssignedFunc is called when the observed executive changes. It is also
// called with an empty owner when this process loses the role and no
// successor is known yet.
type AssignedFunc func(owner string, participants int)

// DefaultIdentity is the hostname plus a short random suffix, so that two
// processes on one host never share an identity.
func DefaultIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "indexer"
	}
	return host + "-" + uuid.NewString()[:8]
}

// Static is the single-process resolver: always executive.
type Static struct {
	Identity   string
	OnAssigned AssignedFunc
}

func NewStatic(identity string, onAssigned AssignedFunc) *Static {
	return &Static{Identity: identity, OnAssigned: onAssigned}
}

func (s *Static) Start(context.Context) error {
	if s.OnAssigned != nil {
		s.OnAssigned(s.Identity, 1)
	}
	return nil
}

func (s *Static) IsExecutive() bool { return true }

func (s *Static) Executive() string { return s.Identity }

func (s *Static) Participants() int { return 1 }

func (s *Static) Close(context.Context) error { return nil }

// LeaseConfig tunes a LeaseResolver. Zero durations take the defaults.
type LeaseConfig struct {
	Identity       string
	RenewInterval  time.Duration
	StaleThreshold time.Duration
	OpTimeout      time.Duration
	OnAssigned     AssignedFunc
	// Now is the clock; tests move it forward to age records.
	Now func() time.Time
}

// LeaseResolver elects one executive among the processes sharing a
// ClaimStore. The executive holds ClaimKey and renews it every
// RenewInterval; a claim not renewed within StaleThreshold is purged and
// contested. Any store failure demotes the process.
type LeaseResolver struct {
	store  ClaimStore
	cfg    LeaseConfig
	logger *slog.Logger

	mu      sync.Mutex // serialises ticks
	joined  time.Time
	started bool
	closed  bool

	executive    atomic.Bool
	participants atomic.Int64
	observed     atomic.Pointer[string]

	cancel context.CancelFunc
	done   chan struct{}
}

func NewLeaseResolver(store ClaimStore, cfg LeaseConfig) *LeaseResolver {
	if cfg.Identity == "" {
		cfg.Identity = DefaultIdentity()
	}
	if cfg.RenewInterval <= 0 {
		cfg.RenewInterval = DefaultRenewInterval
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LeaseResolver{
		store:  store,
		cfg:    cfg,
		logger: slog.Default().With("component", "election", "identity", cfg.Identity),
		done:   make(chan struct{}),
	}
}

func (r *LeaseResolver) Identity() string { return r.cfg.Identity }

// Start registers presence, contests the claim once and starts the
// renewal loop. A failed first round leaves the process non-executive and
// is returned for logging; the loop retries on the next tick.
func (r *LeaseResolver) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.joined = r.cfg.Now()
	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	err := r.Refresh(ctx)
	go r.loop(loopCtx)
	return err
}

func (r *LeaseResolver) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.RenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("election tick failed", "error", err)
			}
		}
	}
}

func (r *LeaseResolver) IsExecutive() bool { return r.executive.Load() }

func (r *LeaseResolver) Executive() string {
	if p := r.observed.Load(); p != nil {
		return *p
	}
	return ""
}

func (r *LeaseResolver) Participants() int { return int(r.participants.Load()) }

// Refresh runs one coordination round. It is what the renewal loop calls
// on every tick.
func (r *LeaseResolver) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if err := r.tick(ctx, r.cfg.Now()); err != nil {
		if r.executive.Swap(false) {
			r.logger.Warn("stepping down, claim store unavailable", "error", err)
		}
		r.observe("")
		return fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *LeaseResolver) tick(ctx context.Context, now time.Time) error {
	entries, err := resilience.Call(ctx, r.cfg.OpTimeout, "election list", r.store.List)
	if err != nil {
		return err
	}

	self := PresenceKey(r.cfg.Identity)
	participants := int64(1)
	var claims []Entry
	for _, e := range entries {
		switch {
		case IsClaim(e.Key):
			claims = append(claims, e)
		case IsPresence(e.Key) && e.Key != self:
			if !e.Record.Stale(now, r.cfg.StaleThreshold) {
				participants++
				continue
			}
			if err := r.purge(ctx, e.Key, now); err != nil {
				return err
			}
			r.logger.Info("purged stale presence", "key", e.Key)
		}
	}
	r.participants.Store(participants)

	if r.executive.Load() {
		if err := r.renewClaim(ctx, now); err != nil {
			return err
		}
	}
	if !r.executive.Load() {
		if err := r.contest(ctx, claims, now); err != nil {
			return err
		}
	}

	if err := r.putPresence(ctx, now); err != nil {
		return err
	}

	if r.executive.Load() {
		r.observe(r.cfg.Identity)
		return nil
	}
	rec, ok, err := r.get(ctx, ClaimKey)
	if err != nil {
		return err
	}
	if ok && !rec.Stale(now, r.cfg.StaleThreshold) {
		r.observe(rec.Owner)
	} else {
		r.observe("")
	}
	return nil
}

// renewClaim verifies the claim is still ours and re-puts it with a fresh
// Updated time. A mismatch means another process took over.
func (r *LeaseResolver) renewClaim(ctx context.Context, now time.Time) error {
	rec, ok, err := r.get(ctx, ClaimKey)
	if err != nil {
		return err
	}
	if !ok || rec.Owner != r.cfg.Identity {
		r.executive.Store(false)
		owner := ""
		if ok {
			owner = rec.Owner
		}
		r.logger.Warn("executive claim lost", "owner", owner)
		return nil
	}
	rec.Updated = now
	return resilience.WithTimeout(ctx, r.cfg.OpTimeout, "election renew", func(ctx context.Context) error {
		return r.store.Put(ctx, ClaimKey, rec)
	})
}

func (r *LeaseResolver) contest(ctx context.Context, claims []Entry, now time.Time) error {
	var live []Entry
	for _, c := range claims {
		if !c.Record.Stale(now, r.cfg.StaleThreshold) {
			live = append(live, c)
		}
	}
	if len(claims) == 1 && len(live) == 1 {
		if live[0].Record.Owner == r.cfg.Identity && live[0].Key == ClaimKey {
			r.executive.Store(true)
			r.logger.Info("re-adopted executive claim")
		}
		return nil
	}

	for _, c := range claims {
		if !c.Record.Stale(now, r.cfg.StaleThreshold) {
			continue
		}
		if err := r.purge(ctx, c.Key, now); err != nil {
			return err
		}
		r.logger.Info("purged stale claim", "key", c.Key, "owner", c.Record.Owner, "age", now.Sub(c.Record.Updated))
	}

	rec := Record{Owner: r.cfg.Identity, Created: now, Updated: now}
	won, err := resilience.Call(ctx, r.cfg.OpTimeout, "election create", func(ctx context.Context) (bool, error) {
		return r.store.Create(ctx, ClaimKey, rec)
	})
	if err != nil {
		return err
	}
	if won {
		r.executive.Store(true)
		r.logger.Info("became executive", "participants", r.participants.Load())
	}
	return nil
}

// purge deletes key after re-reading it, so a record renewed since List
// is left alone.
func (r *LeaseResolver) purge(ctx context.Context, key string, now time.Time) error {
	rec, ok, err := r.get(ctx, key)
	if err != nil {
		return err
	}
	if !ok || !rec.Stale(now, r.cfg.StaleThreshold) {
		return nil
	}
	return resilience.WithTimeout(ctx, r.cfg.OpTimeout, "election purge", func(ctx context.Context) error {
		return r.store.Delete(ctx, key)
	})
}

func (r *LeaseResolver) putPresence(ctx context.Context, now time.Time) error {
	rec := Record{
		Owner:   r.cfg.Identity,
		Created: r.joined,
		Updated: now,
		Leader:  r.executive.Load(),
	}
	return resilience.WithTimeout(ctx, r.cfg.OpTimeout, "election presence", func(ctx context.Context) error {
		return r.store.Put(ctx, PresenceKey(r.cfg.Identity), rec)
	})
}

func (r *LeaseResolver) get(ctx context.Context, key string) (Record, bool, error) {
	type got struct {
		rec Record
		ok  bool
	}
	g, err := resilience.Call(ctx, r.cfg.OpTimeout, "election get", func(ctx context.Context) (got, error) {
		rec, ok, err := r.store.Get(ctx, key)
		return got{rec, ok}, err
	})
	return g.rec, g.ok, err
}

func (r *LeaseResolver) observe(owner string) {
	prev := r.Executive()
	r.observed.Store(&owner)
	if owner == prev || (owner == "" && prev != r.cfg.Identity) {
		return
	}
	if owner == "" {
		r.logger.Warn("executive role lost, no successor known")
	} else {
		r.logger.Info("executive assigned", "owner", owner, "participants", r.participants.Load())
	}
	if r.cfg.OnAssigned != nil {
		r.cfg.OnAssigned(owner, int(r.participants.Load()))
	}
}

// Close stops the renewal loop, releases the claim if it still names this
// process and removes this process's presence record. The claim is checked
// even after a demotion, since a store outage does not remove it.
func (r *LeaseResolver) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.started
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	if started {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var errs []error
	r.executive.Store(false)
	if started {
		rec, ok, err := r.get(ctx, ClaimKey)
		switch {
		case err != nil:
			errs = append(errs, err)
		case ok && rec.Owner == r.cfg.Identity:
			errs = append(errs, resilience.WithTimeout(ctx, r.cfg.OpTimeout, "election release", func(ctx context.Context) error {
				return r.store.Delete(ctx, ClaimKey)
			}))
			r.logger.Info("released executive claim")
		}
	}
	if started {
		errs = append(errs, resilience.WithTimeout(ctx, r.cfg.OpTimeout, "election leave", func(ctx context.Context) error {
			return r.store.Delete(ctx, PresenceKey(r.cfg.Identity))
		}))
	}
	return errors.Join(errs...)
}
