package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"seismonet/internal/db"
	"seismonet/internal/notify"
)

var (
	ErrMissingLevel  = errors.New("missing or unknown level")
	ErrMissingDeltaG = errors.New("missing or negative deltaG")
)

type Store interface {
	InsertEvent(ctx context.Context, event *db.SeismicEvent, waveform []byte) error
}

type Resolver interface {
	Alias(id string) string
}

type Toucher interface {
	Touch(id string, at time.Time)
}

type Reporter interface {
	Report(deviceID string)
}

// Report is one inbound event report from a device, as posted by the
// firmware. DeltaG is a pointer so that an absent field is distinguishable
// from a literal zero.
type Report struct {
	DeviceID string          `json:"id"`
	Level    string          `json:"level"`
	DeltaG   *float64        `json:"deltaG"`
	OffsetMs int64           `json:"event_offset_ms"`
	Waveform json.RawMessage `json:"waveform,omitempty"`
}

type Config struct {
	Store     Store
	Registry  Resolver
	Liveness  Toucher
	Detector  Reporter
	Publisher notify.Publisher
	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

// Gateway validates and normalizes event reports, persists them, and feeds
// the consensus detector. Persistence happens before the consensus report so
// a crash between the two can only lose the grouping, never the raw event.
type Gateway struct {
	store     Store
	registry  Resolver
	liveness  Toucher
	detector  Reporter
	publisher notify.Publisher
	now       func() time.Time
}

func New(cfg Config) *Gateway {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Gateway{
		store:     cfg.Store,
		registry:  cfg.Registry,
		liveness:  cfg.Liveness,
		detector:  cfg.Detector,
		publisher: cfg.Publisher,
		now:       now,
	}
}

func (g *Gateway) Ingest(ctx context.Context, report Report) (db.SeismicEvent, error) {
	const fn = "Gateway:Ingest"
	if err := validate(report); err != nil {
		return db.SeismicEvent{}, fmt.Errorf("%s:%w", fn, err)
	}

	deviceID := report.DeviceID
	if deviceID == "" {
		deviceID = "unknown"
	}

	now := g.now().UTC()
	event := db.SeismicEvent{
		DeviceID:  deviceID,
		Alias:     g.registry.Alias(deviceID),
		Level:     report.Level,
		DeltaG:    *report.DeltaG,
		OffsetMs:  report.OffsetMs,
		CreatedAt: now,
	}

	// Any successful contact counts as liveness, even if the write below
	// fails: the device demonstrably reached us.
	g.liveness.Touch(deviceID, now)

	if err := g.store.InsertEvent(ctx, &event, report.Waveform); err != nil {
		return db.SeismicEvent{}, fmt.Errorf("%s:%w", fn, err)
	}

	g.detector.Report(deviceID)
	g.publisher.Publish(ctx, notify.KindEvent, deviceID, event)
	slog.InfoContext(ctx, "Event ingested",
		"device_id", deviceID,
		"alias", event.Alias,
		"level", event.Level,
		"delta_g", event.DeltaG,
	)
	return event, nil
}

func validate(report Report) error {
	switch report.Level {
	case db.LevelMinor, db.LevelModerate, db.LevelSevere:
	default:
		return ErrMissingLevel
	}
	if report.DeltaG == nil || *report.DeltaG < 0 {
		return ErrMissingDeltaG
	}
	return nil
}
