package db

import "time"

const (
	LevelMinor    = "minor"
	LevelModerate = "moderate"
	LevelSevere   = "severe"
)

const (
	FlagPending   = "pending"
	FlagSent      = "sent"
	FlagCompleted = "completed"
	FlagCancelled = "cancelled"
)

type SeismicEvent struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	Alias     string    `json:"alias"`
	Level     string    `json:"level"`
	DeltaG    float64   `json:"delta_g"`
	OffsetMs  int64     `json:"offset_ms"`
	CreatedAt time.Time `json:"created_at"`
}

type ConsensusRecord struct {
	ID         int64     `json:"id"`
	RecordedAt time.Time `json:"recorded_at"`
	DeviceIds  []string  `json:"device_ids"`
	Aliases    []string  `json:"aliases"`
}

type ReinitFlag struct {
	ID          int64      `json:"id"`
	DeviceID    string     `json:"device_id"`
	Alias       string     `json:"alias"`
	Status      string     `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

type Sensitivity struct {
	Minor    float64 `json:"minor"`
	Moderate float64 `json:"moderate"`
	Severe   float64 `json:"severe"`
}

// SensitivityOverride mirrors Sensitivity with every field optional; nil
// fields defer to the global document.
type SensitivityOverride struct {
	Minor    *float64 `json:"minor,omitempty"`
	Moderate *float64 `json:"moderate,omitempty"`
	Severe   *float64 `json:"severe,omitempty"`
}

type DeviceOverride struct {
	HeartbeatInterval *int64               `json:"heartbeat_interval,omitempty"`
	Sensitivity       *SensitivityOverride `json:"sensitivity,omitempty"`
}

// ConfigDocument is the singleton configuration record. Replaced wholesale
// via PutConfig; per-device overrides are merged over globals by the init
// response builder, never at this layer.
type ConfigDocument struct {
	HeartbeatInterval int64                     `json:"heartbeat_interval"`
	Sensitivity       Sensitivity               `json:"sensitivity"`
	WindowMs          int64                     `json:"window_ms"`
	OfflineMs         int64                     `json:"offline_ms"`
	FirmwareVersion   string                    `json:"firmware_version,omitempty"`
	FirmwareURL       string                    `json:"firmware_url,omitempty"`
	Overrides         map[string]DeviceOverride `json:"overrides,omitempty"`
}

// Defaults match the values the first-generation firmware shipped with.
func DefaultConfig() ConfigDocument {
	return ConfigDocument{
		HeartbeatInterval: 60_000,
		Sensitivity: Sensitivity{
			Minor:    0.035,
			Moderate: 0.10,
			Severe:   0.50,
		},
		WindowMs:  2_000,
		OfflineMs: 300_000,
	}
}
