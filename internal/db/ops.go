package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/pgxscan"
	"github.com/jackc/pgx/v4"
)

var (
	ErrInsertFailed = errors.New("insert operation failed")
	ErrUpdateFailed = errors.New("update operation failed")
	ErrSelectFailed = errors.New("select operation failed")
	ErrNotFound     = errors.New("record not found")
	ErrBadStatus    = errors.New("unknown flag status")
)

func (db *DB) InsertEvent(ctx context.Context, event *SeismicEvent, waveform []byte) error {
	const fn = "DB:InsertEvent"
	err := db.pool.QueryRow(ctx, `
		INSERT INTO seismic_events (
			device_id,
			alias,
			level,
			delta_g,
			offset_ms,
			waveform,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		RETURNING id
	`, event.DeviceID, event.Alias, event.Level, event.DeltaG, event.OffsetMs,
		waveform, event.CreatedAt).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrInsertFailed, err)
	}
	return nil
}

func (db *DB) RecentEvents(ctx context.Context, limit int) ([]SeismicEvent, error) {
	const fn = "DB:RecentEvents"
	var events []SeismicEvent
	err := pgxscan.Select(ctx, db.pool, &events, `
		SELECT
			id,
			device_id,
			alias,
			level,
			delta_g,
			offset_ms,
			created_at
		FROM seismic_events
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []SeismicEvent{}, nil
		}
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	return events, nil
}

// EventWaveform returns the stored waveform payload for an event, or
// ErrNotFound when the event does not exist or carried no waveform.
func (db *DB) EventWaveform(ctx context.Context, id int64) ([]byte, error) {
	const fn = "DB:EventWaveform"
	var waveform []byte
	err := db.pool.QueryRow(ctx, `
		SELECT waveform
		FROM seismic_events
		WHERE id = $1
	`, id).Scan(&waveform)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s:%w", fn, ErrNotFound)
		}
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	if waveform == nil {
		return nil, fmt.Errorf("%s:%w", fn, ErrNotFound)
	}
	return waveform, nil
}

func (db *DB) InsertConsensus(ctx context.Context, record *ConsensusRecord) error {
	const fn = "DB:InsertConsensus"
	err := db.pool.QueryRow(ctx, `
		INSERT INTO consensus_records (
			recorded_at,
			device_ids,
			aliases
		) VALUES ($1, $2, $3)
		RETURNING id
	`, record.RecordedAt, record.DeviceIds, record.Aliases).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrInsertFailed, err)
	}
	return nil
}

func (db *DB) RecentConsensus(ctx context.Context, limit int) ([]ConsensusRecord, error) {
	const fn = "DB:RecentConsensus"
	var records []ConsensusRecord
	err := pgxscan.Select(ctx, db.pool, &records, `
		SELECT
			id,
			recorded_at,
			device_ids,
			aliases
		FROM consensus_records
		ORDER BY recorded_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []ConsensusRecord{}, nil
		}
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	return records, nil
}

// GetConfig loads the singleton configuration document, creating and
// persisting the default document on first access.
func (db *DB) GetConfig(ctx context.Context) (ConfigDocument, error) {
	const fn = "DB:GetConfig"
	var raw []byte
	err := db.pool.QueryRow(ctx, `
		SELECT doc FROM device_config WHERE id = 1
	`).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.PutConfig(ctx, DefaultConfig())
		}
		return ConfigDocument{}, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	var doc ConfigDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ConfigDocument{}, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	return doc, nil
}

// PutConfig replaces the singleton configuration document wholesale.
func (db *DB) PutConfig(ctx context.Context, doc ConfigDocument) (ConfigDocument, error) {
	const fn = "DB:PutConfig"
	raw, err := json.Marshal(doc)
	if err != nil {
		return ConfigDocument{}, fmt.Errorf("%s:%w:%w", fn, ErrInsertFailed, err)
	}
	_, err = db.pool.Exec(ctx, `
		INSERT INTO device_config (id, doc, updated_at)
		VALUES (1, $1::jsonb, now())
		ON CONFLICT (id) DO UPDATE SET doc = $1::jsonb, updated_at = now()
	`, string(raw))
	if err != nil {
		return ConfigDocument{}, fmt.Errorf("%s:%w:%w", fn, ErrInsertFailed, err)
	}
	return doc, nil
}

func (db *DB) InsertFlag(ctx context.Context, flag *ReinitFlag) error {
	const fn = "DB:InsertFlag"
	err := db.pool.QueryRow(ctx, `
		INSERT INTO reinit_flags (
			device_id,
			alias,
			status,
			requested_at
		) VALUES ($1, $2, $3, $4)
		RETURNING id
	`, flag.DeviceID, flag.Alias, flag.Status, flag.RequestedAt).Scan(&flag.ID)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrInsertFailed, err)
	}
	return nil
}

// UpdateFlag transitions a flag to status and stamps the matching timestamp
// column (sent_at for sent, resolved_at for completed/cancelled).
func (db *DB) UpdateFlag(ctx context.Context, id int64, status string, at time.Time) error {
	const fn = "DB:UpdateFlag"
	var query string
	switch status {
	case FlagSent:
		query = `UPDATE reinit_flags SET status = $2, sent_at = $3 WHERE id = $1`
	case FlagCompleted, FlagCancelled:
		query = `UPDATE reinit_flags SET status = $2, resolved_at = $3 WHERE id = $1`
	default:
		return fmt.Errorf("%s:%w:%s", fn, ErrBadStatus, status)
	}
	tag, err := db.pool.Exec(ctx, query, id, status, at)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrUpdateFailed, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", fn, ErrNotFound)
	}
	return nil
}

// ActiveFlags returns all pending and sent flags, oldest first. Used to
// rebuild the coordinator's in-memory table after a restart.
func (db *DB) ActiveFlags(ctx context.Context) ([]ReinitFlag, error) {
	const fn = "DB:ActiveFlags"
	var flags []ReinitFlag
	err := pgxscan.Select(ctx, db.pool, &flags, `
		SELECT
			id,
			device_id,
			alias,
			status,
			requested_at,
			sent_at,
			resolved_at
		FROM reinit_flags
		WHERE status IN ($1, $2)
		ORDER BY id ASC
	`, FlagPending, FlagSent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []ReinitFlag{}, nil
		}
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	return flags, nil
}

func (db *DB) RecentResolvedFlags(ctx context.Context, limit int) ([]ReinitFlag, error) {
	const fn = "DB:RecentResolvedFlags"
	var flags []ReinitFlag
	err := pgxscan.Select(ctx, db.pool, &flags, `
		SELECT
			id,
			device_id,
			alias,
			status,
			requested_at,
			sent_at,
			resolved_at
		FROM reinit_flags
		WHERE status IN ($1, $2)
		ORDER BY resolved_at DESC, id DESC
		LIMIT $3
	`, FlagCompleted, FlagCancelled, limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []ReinitFlag{}, nil
		}
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	return flags, nil
}
