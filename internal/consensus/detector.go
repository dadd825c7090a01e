package consensus

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
	InsertConsensus(ctx context.Context, record *db.ConsensusRecord) error
}

type Resolver interface {
	Alias(id string) string
	Known() []string
}

type Config struct {
	Window    time.Duration
	Registry  Resolver
	Store     Store
	Publisher notify.Publisher
	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

// Detector accumulates per-window device participation. Two states: Idle (no
// open window) and Open (participant set plus a pending close timer). The
// first report while Idle opens a window of fixed duration; reports never
// extend an open window. All state transitions happen under one mutex so a
// report and the window-close timer cannot interleave.
type Detector struct {
	mu           sync.Mutex
	open         bool
	generation   uint64
	participants map[string]struct{}
	window       time.Duration

	registry  Resolver
	store     Store
	publisher notify.Publisher
	now       func() time.Time
}

func New(cfg Config) *Detector {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Detector{
		window:    cfg.Window,
		registry:  cfg.Registry,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		now:       now,
	}
}

// SetWindow applies a new window duration. An already-open window keeps the
// duration it was scheduled with.
func (d *Detector) SetWindow(window time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window = window
}

// Report records that deviceID observed an event. Opens a window when Idle;
// otherwise joins the open one. Idempotent per device per window.
func (d *Detector) Report(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		d.participants[deviceID] = struct{}{}
		return
	}

	d.open = true
	d.generation++
	d.participants = map[string]struct{}{deviceID: {}}
	generation := d.generation
	time.AfterFunc(d.window, func() {
		d.closeWindow(generation)
	})
}

// closeWindow fires when the window timer elapses. The generation check makes
// a stale timer a no-op if a newer window has opened since.
func (d *Detector) closeWindow(generation uint64) {
	d.mu.Lock()
	if !d.open || d.generation != generation {
		d.mu.Unlock()
		return
	}
	participants := d.participants
	d.open = false
	d.participants = nil
	d.mu.Unlock()

	known := d.registry.Known()
	if len(known) == 0 {
		return
	}
	for _, id := range known {
		if _, ok := participants[id]; !ok {
			slog.Info("Window closed without consensus",
				"participants", len(participants),
				"known", len(known),
			)
			return
		}
	}

	ids := make([]string, 0, len(participants))
	for id := range participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	aliases := make([]string, len(ids))
	for i, id := range ids {
		aliases[i] = d.registry.Alias(id)
	}

	record := db.ConsensusRecord{
		RecordedAt: d.now().UTC(),
		DeviceIds:  ids,
		Aliases:    aliases,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.store.InsertConsensus(ctx, &record); err != nil {
		slog.ErrorContext(ctx, "Error persisting consensus record", "error", err)
		return
	}
	slog.InfoContext(ctx, "Consensus reached", "devices", aliases)
	d.publisher.Publish(ctx, notify.KindConsensus, "consensus", record)
}
