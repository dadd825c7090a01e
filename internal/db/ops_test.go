package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var DBPool *DB

// Setup the testcontainer DB before running any ops tests
func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
	)
	if err != nil {
		panic(err)
	}
	defer pgContainer.Terminate(ctx)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		panic(err)
	}
	migrationsPath := "./migrations"

	DBPool, err = Init(ctx, Config{
		ConnString:     connStr,
		MigrationsPath: migrationsPath,
	})
	if err != nil {
		panic(err)
	}

	m.Run()

	pgContainer.Terminate(ctx)
	DBPool.Close()
}

func TestEventOps(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first := SeismicEvent{
		DeviceID:  "AA:01",
		Alias:     "attic",
		Level:     LevelMinor,
		DeltaG:    0.04,
		CreatedAt: base,
	}
	require.NoError(t, DBPool.InsertEvent(ctx, &first, nil))
	require.NotZero(t, first.ID)

	second := SeismicEvent{
		DeviceID:  "BB:02",
		Alias:     "basement",
		Level:     LevelSevere,
		DeltaG:    0.6,
		OffsetMs:  3000,
		CreatedAt: base.Add(time.Second),
	}
	require.NoError(t, DBPool.InsertEvent(ctx, &second, []byte(`[[0,0.1,0.2,0.3]]`)))

	events, err := DBPool.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(events), 2)
	// Time-descending: the later event comes first.
	assert.Equal(t, "BB:02", events[0].DeviceID)
	assert.Equal(t, 0.6, events[0].DeltaG)
	assert.Equal(t, "AA:01", events[1].DeviceID)

	waveform, err := DBPool.EventWaveform(ctx, second.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `[[0,0.1,0.2,0.3]]`, string(waveform))

	_, err = DBPool.EventWaveform(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = DBPool.EventWaveform(ctx, 999999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsensusOps(t *testing.T) {
	ctx := context.Background()

	record := ConsensusRecord{
		RecordedAt: time.Date(2025, 6, 1, 12, 0, 2, 0, time.UTC),
		DeviceIds:  []string{"AA:01", "BB:02", "CC:03"},
		Aliases:    []string{"attic", "basement", "cellar"},
	}
	require.NoError(t, DBPool.InsertConsensus(ctx, &record))
	require.NotZero(t, record.ID)

	records, err := DBPool.RecentConsensus(ctx, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(records), 1)
	assert.Equal(t, record.DeviceIds, records[0].DeviceIds)
	assert.Equal(t, record.Aliases, records[0].Aliases)
}

func TestConfigOps(t *testing.T) {
	ctx := context.Background()

	// First access creates and persists the default document.
	doc, err := DBPool.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), doc)

	interval := int64(30_000)
	doc.HeartbeatInterval = 120_000
	doc.Overrides = map[string]DeviceOverride{
		"AA:01": {HeartbeatInterval: &interval},
	}
	stored, err := DBPool.PutConfig(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, doc, stored)

	reloaded, err := DBPool.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(120_000), reloaded.HeartbeatInterval)
	require.Contains(t, reloaded.Overrides, "AA:01")
	require.NotNil(t, reloaded.Overrides["AA:01"].HeartbeatInterval)
	assert.Equal(t, interval, *reloaded.Overrides["AA:01"].HeartbeatInterval)
}

func TestFlagOps(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	flag := ReinitFlag{
		DeviceID:    "CC:03",
		Alias:       "cellar",
		Status:      FlagPending,
		RequestedAt: base,
	}
	require.NoError(t, DBPool.InsertFlag(ctx, &flag))
	require.NotZero(t, flag.ID)

	active, err := DBPool.ActiveFlags(ctx)
	require.NoError(t, err)
	require.Len(t, filterByDevice(active, "CC:03"), 1)

	require.NoError(t, DBPool.UpdateFlag(ctx, flag.ID, FlagSent, base.Add(time.Second)))
	active, err = DBPool.ActiveFlags(ctx)
	require.NoError(t, err)
	sent := filterByDevice(active, "CC:03")
	require.Len(t, sent, 1)
	assert.Equal(t, FlagSent, sent[0].Status)
	require.NotNil(t, sent[0].SentAt)

	require.NoError(t, DBPool.UpdateFlag(ctx, flag.ID, FlagCompleted, base.Add(time.Minute)))
	active, err = DBPool.ActiveFlags(ctx)
	require.NoError(t, err)
	assert.Empty(t, filterByDevice(active, "CC:03"))

	recent, err := DBPool.RecentResolvedFlags(ctx, 10)
	require.NoError(t, err)
	resolved := filterByDevice(recent, "CC:03")
	require.Len(t, resolved, 1)
	assert.Equal(t, FlagCompleted, resolved[0].Status)
	require.NotNil(t, resolved[0].ResolvedAt)

	err = DBPool.UpdateFlag(ctx, flag.ID, "exploded", base)
	assert.ErrorIs(t, err, ErrBadStatus)

	err = DBPool.UpdateFlag(ctx, 999999, FlagCompleted, base)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func filterByDevice(flags []ReinitFlag, deviceID string) []ReinitFlag {
	var out []ReinitFlag
	for _, flag := range flags {
		if flag.DeviceID == deviceID {
			out = append(out, flag)
		}
	}
	return out
}
