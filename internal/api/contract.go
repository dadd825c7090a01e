package api

import (
	"time"

	"seismonet/internal/db"
)

type DeviceStatus struct {
	DeviceID       string     `json:"device_id"`
	Alias          string     `json:"alias"`
	Online         bool       `json:"online"`
	LastSeen       *time.Time `json:"last_seen,omitempty"`
	LastInit       *time.Time `json:"last_init,omitempty"`
	AutoRegistered bool       `json:"auto_registered,omitempty"`
}

type StatusResponse struct {
	Devices []DeviceStatus `json:"devices"`
}

type EventsResponse struct {
	Events []db.SeismicEvent `json:"events"`
}

type ConsensusResponse struct {
	Records []db.ConsensusRecord `json:"records"`
}

type ReinitStatusResponse struct {
	Active []db.ReinitFlag `json:"active"`
	Recent []db.ReinitFlag `json:"recent"`
}

type ReinitResponse struct {
	Flags []db.ReinitFlag `json:"flags"`
}

// InitResponse is what the firmware parses on boot: effective heartbeat
// interval and sensitivity thresholds (global config with the device's
// override applied), plus OTA passthrough fields.
type InitResponse struct {
	HeartbeatInterval int64          `json:"heartbeat_interval"`
	Sensitivity       db.Sensitivity `json:"sensitivity"`
	FirmwareVersion   string         `json:"firmware_version"`
	FirmwareURL       string         `json:"firmware_url"`
}

type LoggedResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
