package reinit

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"seismonet/internal/db"
	"seismonet/internal/notify"
)

type Store interface {
	InsertFlag(ctx context.Context, flag *db.ReinitFlag) error
	UpdateFlag(ctx context.Context, id int64, status string, at time.Time) error
	ActiveFlags(ctx context.Context) ([]db.ReinitFlag, error)
	RecentResolvedFlags(ctx context.Context, limit int) ([]db.ReinitFlag, error)
}

type Resolver interface {
	Alias(id string) string
	Known() []string
}

type Config struct {
	Store    Store
	Registry Resolver
	// Publisher receives a reinit notification on every flag transition.
	Publisher notify.Publisher
	// Timeout is how long a sent flag may wait for the device's init call
	// before being force-completed.
	Timeout time.Duration
	// RecentCount bounds the resolved-flag history returned by Status.
	RecentCount int
	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

// Coordinator drives the per-device reinit state machine:
// pending -> sent -> completed, with cancelled reachable from pending or
// sent when a newer request supersedes, and a timeout path from sent.
// The active table (at most one pending/sent flag per device) lives in
// memory behind one mutex; every transition is persisted through the store,
// which stays the durable source of truth across restarts.
type Coordinator struct {
	mu     sync.Mutex
	active map[string]*db.ReinitFlag

	store       Store
	registry    Resolver
	publisher   notify.Publisher
	timeout     time.Duration
	recentCount int
	now         func() time.Time
}

func New(cfg Config) *Coordinator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		active:      make(map[string]*db.ReinitFlag),
		store:       cfg.Store,
		registry:    cfg.Registry,
		publisher:   cfg.Publisher,
		timeout:     cfg.Timeout,
		recentCount: cfg.RecentCount,
		now:         now,
	}
}

// Hydrate rebuilds the active table from the store after a restart. If the
// store holds more than one active flag for a device (possible only after a
// crash mid-supersede), the newest wins and the rest are cancelled.
func (c *Coordinator) Hydrate(ctx context.Context) error {
	flags, err := c.store.ActiveFlags(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range flags {
		flag := flags[i]
		if prior, ok := c.active[flag.DeviceID]; ok {
			if err := c.store.UpdateFlag(ctx, prior.ID, db.FlagCancelled, c.now().UTC()); err != nil {
				slog.ErrorContext(ctx, "Error cancelling duplicate flag", "flag_id", prior.ID, "error", err)
			}
		}
		c.active[flag.DeviceID] = &flag
	}
	slog.InfoContext(ctx, "Reinit coordinator hydrated", "active_flags", len(c.active))
	return nil
}

// Request creates a pending flag for deviceID, cancelling any prior active
// one. Safe to call repeatedly: there is never more than one active flag per
// device.
func (c *Coordinator) Request(ctx context.Context, deviceID string) (db.ReinitFlag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestLocked(ctx, deviceID)
}

// RequestAll requests a reinit for every known device. Failures on
// individual devices are logged and skipped so one bad row cannot block a
// fleet-wide reinit.
func (c *Coordinator) RequestAll(ctx context.Context) []db.ReinitFlag {
	c.mu.Lock()
	defer c.mu.Unlock()
	flags := make([]db.ReinitFlag, 0, len(c.registry.Known()))
	for _, id := range c.registry.Known() {
		flag, err := c.requestLocked(ctx, id)
		if err != nil {
			slog.ErrorContext(ctx, "Error requesting reinit", "device_id", id, "error", err)
			continue
		}
		flags = append(flags, flag)
	}
	return flags
}

func (c *Coordinator) requestLocked(ctx context.Context, deviceID string) (db.ReinitFlag, error) {
	now := c.now().UTC()
	if prior, ok := c.active[deviceID]; ok {
		if err := c.store.UpdateFlag(ctx, prior.ID, db.FlagCancelled, now); err != nil {
			return db.ReinitFlag{}, err
		}
		delete(c.active, deviceID)
		c.publishTransition(ctx, prior, db.FlagCancelled, nil, &now)
	}

	flag := &db.ReinitFlag{
		DeviceID:    deviceID,
		Alias:       c.registry.Alias(deviceID),
		Status:      db.FlagPending,
		RequestedAt: now,
	}
	if err := c.store.InsertFlag(ctx, flag); err != nil {
		return db.ReinitFlag{}, err
	}
	c.active[deviceID] = flag
	c.publisher.Publish(ctx, notify.KindReinit, deviceID, *flag)
	slog.InfoContext(ctx, "Reinit requested", "device_id", deviceID, "flag_id", flag.ID)
	return *flag, nil
}

// OnHeartbeat runs the reinit bookkeeping for a heartbeat from deviceID and
// reports whether the heartbeat response must carry the reinit signal.
// Stale sent flags of every device are force-completed here: the timeout is
// evaluated lazily against stored timestamps on each heartbeat, which keeps
// the guarantee alive across restarts with no dedicated scheduler.
func (c *Coordinator) OnHeartbeat(ctx context.Context, deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now().UTC()

	for id, flag := range c.active {
		if flag.Status != db.FlagSent || flag.SentAt == nil {
			continue
		}
		if now.Sub(*flag.SentAt) <= c.timeout {
			continue
		}
		if err := c.store.UpdateFlag(ctx, flag.ID, db.FlagCompleted, now); err != nil {
			slog.ErrorContext(ctx, "Error force-completing flag", "flag_id", flag.ID, "error", err)
			continue
		}
		delete(c.active, id)
		c.publishTransition(ctx, flag, db.FlagCompleted, flag.SentAt, &now)
		slog.InfoContext(ctx, "Reinit flag force-completed after timeout",
			"device_id", id, "flag_id", flag.ID)
	}

	flag, ok := c.active[deviceID]
	if !ok || flag.Status != db.FlagPending {
		return false
	}
	if err := c.store.UpdateFlag(ctx, flag.ID, db.FlagSent, now); err != nil {
		slog.ErrorContext(ctx, "Error marking flag sent", "flag_id", flag.ID, "error", err)
		return false
	}
	flag.Status = db.FlagSent
	flag.SentAt = &now
	c.publisher.Publish(ctx, notify.KindReinit, deviceID, *flag)
	slog.InfoContext(ctx, "Reinit signal sent", "device_id", deviceID, "flag_id", flag.ID)
	return true
}

// OnInit completes a sent flag for deviceID: the device rebooted and came
// back through the init endpoint. The clean completion path; takes
// precedence over the timeout when it happens first.
func (c *Coordinator) OnInit(ctx context.Context, deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	flag, ok := c.active[deviceID]
	if !ok || flag.Status != db.FlagSent {
		return
	}
	now := c.now().UTC()
	if err := c.store.UpdateFlag(ctx, flag.ID, db.FlagCompleted, now); err != nil {
		slog.ErrorContext(ctx, "Error completing flag", "flag_id", flag.ID, "error", err)
		return
	}
	delete(c.active, deviceID)
	c.publishTransition(ctx, flag, db.FlagCompleted, flag.SentAt, &now)
	slog.InfoContext(ctx, "Reinit completed", "device_id", deviceID, "flag_id", flag.ID)
}

// Status returns all active flags plus the most recent resolved ones.
func (c *Coordinator) Status(ctx context.Context) (active, recent []db.ReinitFlag, err error) {
	c.mu.Lock()
	active = make([]db.ReinitFlag, 0, len(c.active))
	for _, flag := range c.active {
		active = append(active, *flag)
	}
	c.mu.Unlock()
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	recent, err = c.store.RecentResolvedFlags(ctx, c.recentCount)
	if err != nil {
		return nil, nil, err
	}
	return active, recent, nil
}

// ActiveFlag returns the active flag for deviceID, if any.
func (c *Coordinator) ActiveFlag(deviceID string) (db.ReinitFlag, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	flag, ok := c.active[deviceID]
	if !ok {
		return db.ReinitFlag{}, false
	}
	return *flag, true
}

func (c *Coordinator) publishTransition(ctx context.Context, flag *db.ReinitFlag, status string, sentAt, resolvedAt *time.Time) {
	resolved := *flag
	resolved.Status = status
	if sentAt != nil {
		resolved.SentAt = sentAt
	}
	resolved.ResolvedAt = resolvedAt
	c.publisher.Publish(ctx, notify.KindReinit, flag.DeviceID, resolved)
}
