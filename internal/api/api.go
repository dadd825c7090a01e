package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"seismonet/internal/db"
	"seismonet/internal/ingest"
	"seismonet/internal/liveness"
	"seismonet/internal/notify"

	"github.com/go-chi/chi/v5"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

type repository interface {
	RecentEvents(ctx context.Context, limit int) ([]db.SeismicEvent, error)
	EventWaveform(ctx context.Context, id int64) ([]byte, error)
	RecentConsensus(ctx context.Context, limit int) ([]db.ConsensusRecord, error)
	GetConfig(ctx context.Context) (db.ConfigDocument, error)
	PutConfig(ctx context.Context, doc db.ConfigDocument) (db.ConfigDocument, error)
}

type ingestor interface {
	Ingest(ctx context.Context, report ingest.Report) (db.SeismicEvent, error)
}

type coordinator interface {
	Request(ctx context.Context, deviceID string) (db.ReinitFlag, error)
	RequestAll(ctx context.Context) []db.ReinitFlag
	OnHeartbeat(ctx context.Context, deviceID string) bool
	OnInit(ctx context.Context, deviceID string)
	Status(ctx context.Context) (active, recent []db.ReinitFlag, err error)
}

type deviceRegistry interface {
	Alias(id string) string
	All() []string
	AutoRegistered(id string) bool
}

type livenessTracker interface {
	Touch(id string, at time.Time)
	TouchInit(id string, at time.Time)
	Status(id string, now time.Time, threshold time.Duration) liveness.Status
	LastSeen(id string) (seen, init time.Time)
}

type windowSetter interface {
	SetWindow(window time.Duration)
}

type API struct {
	DB        repository
	Gateway   ingestor
	Reinit    coordinator
	Registry  deviceRegistry
	Liveness  livenessTracker
	Detector  windowSetter
	Publisher notify.Publisher
	WS        http.Handler
	Now       func() time.Time
}

type Config struct {
	DB        repository
	Gateway   ingestor
	Reinit    coordinator
	Registry  deviceRegistry
	Liveness  livenessTracker
	Detector  windowSetter
	Publisher notify.Publisher
	WS        http.Handler
	Now       func() time.Time
}

func New(cfg Config) *API {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &API{
		DB:        cfg.DB,
		Gateway:   cfg.Gateway,
		Reinit:    cfg.Reinit,
		Registry:  cfg.Registry,
		Liveness:  cfg.Liveness,
		Detector:  cfg.Detector,
		Publisher: cfg.Publisher,
		WS:        cfg.WS,
		Now:       now,
	}
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/", a.Heartbeat)
	r.Post("/api/seismic", a.PostSeismic)
	r.Get("/api/init", a.Init)
	r.Get("/api/status", a.GetStatus)
	r.Get("/api/events", a.GetEvents)
	r.Get("/api/events/{event_id}/waveform", a.GetWaveform)
	r.Get("/api/consensus", a.GetConsensus)
	r.Get("/api/config", a.GetConfig)
	r.Put("/api/config", a.PutConfig)
	r.Get("/api/reinit", a.GetReinitStatus)
	r.Post("/api/reinit", a.RequestReinitAll)
	r.Post("/api/reinit/{device_id}", a.RequestReinit)
	if a.WS != nil {
		r.Handle("/ws", a.WS)
	}
	return r
}

// Heartbeat handles the firmware's periodic contact. Responds 200 OK
// normally, or 205 when a reinit flag moved pending->sent for this device;
// the firmware treats 205 as "reboot now".
func (a *API) Heartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'id' required")
		return
	}

	now := a.Now().UTC()
	alias := a.Registry.Alias(id)
	a.Liveness.Touch(id, now)
	signal := a.Reinit.OnHeartbeat(r.Context(), id)

	a.Publisher.Publish(r.Context(), notify.KindHeartbeat, id, notify.HeartbeatPayload{
		DeviceID: id,
		Alias:    alias,
		Reinit:   signal,
		SeenAt:   now.Format(time.RFC3339),
	})

	if signal {
		w.WriteHeader(http.StatusResetContent)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (a *API) PostSeismic(w http.ResponseWriter, r *http.Request) {
	var report ingest.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := a.Gateway.Ingest(r.Context(), report); err != nil {
		if errors.Is(err, ingest.ErrMissingLevel) || errors.Is(err, ingest.ErrMissingDeltaG) {
			writeError(w, http.StatusBadRequest, "invalid payload: 'level' and 'deltaG' required")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(LoggedResponse{Status: "logged"})
}

// Init delivers the device's effective configuration and completes any
// in-flight reinit for it.
func (a *API) Init(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'id' required")
		return
	}
	if version := r.URL.Query().Get("version"); version != "" {
		slog.InfoContext(r.Context(), "Device init", "device_id", id, "firmware_version", version)
	}

	now := a.Now().UTC()
	a.Registry.Alias(id)
	a.Liveness.TouchInit(id, now)
	a.Reinit.OnInit(r.Context(), id)

	doc, err := a.DB.GetConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, buildInitResponse(doc, id))
}

// buildInitResponse applies the device's override fields on top of the
// global document, field by field.
func buildInitResponse(doc db.ConfigDocument, deviceID string) InitResponse {
	resp := InitResponse{
		HeartbeatInterval: doc.HeartbeatInterval,
		Sensitivity:       doc.Sensitivity,
		FirmwareVersion:   doc.FirmwareVersion,
		FirmwareURL:       doc.FirmwareURL,
	}
	override, ok := doc.Overrides[deviceID]
	if !ok {
		return resp
	}
	if override.HeartbeatInterval != nil {
		resp.HeartbeatInterval = *override.HeartbeatInterval
	}
	if override.Sensitivity != nil {
		if override.Sensitivity.Minor != nil {
			resp.Sensitivity.Minor = *override.Sensitivity.Minor
		}
		if override.Sensitivity.Moderate != nil {
			resp.Sensitivity.Moderate = *override.Sensitivity.Moderate
		}
		if override.Sensitivity.Severe != nil {
			resp.Sensitivity.Severe = *override.Sensitivity.Severe
		}
	}
	return resp
}

func (a *API) GetStatus(w http.ResponseWriter, r *http.Request) {
	doc, err := a.DB.GetConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	threshold := time.Duration(doc.OfflineMs) * time.Millisecond
	now := a.Now().UTC()

	var resp StatusResponse
	for _, id := range a.Registry.All() {
		seen, initAt := a.Liveness.LastSeen(id)
		status := DeviceStatus{
			DeviceID:       id,
			Alias:          a.Registry.Alias(id),
			Online:         a.Liveness.Status(id, now, threshold) == liveness.Online,
			AutoRegistered: a.Registry.AutoRegistered(id),
		}
		if !seen.IsZero() {
			status.LastSeen = &seen
		}
		if !initAt.IsZero() {
			status.LastInit = &initAt
		}
		resp.Devices = append(resp.Devices, status)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) GetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := a.DB.RecentEvents(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: events})
}

func (a *API) GetWaveform(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "event_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	waveform, err := a.DB.EventWaveform(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no waveform for event")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(waveform)
}

func (a *API) GetConsensus(w http.ResponseWriter, r *http.Request) {
	records, err := a.DB.RecentConsensus(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ConsensusResponse{Records: records})
}

func (a *API) GetConfig(w http.ResponseWriter, r *http.Request) {
	doc, err := a.DB.GetConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// PutConfig replaces the configuration document wholesale. Partial updates
// are rejected by construction: absent numeric fields arrive as zero and
// fail validation.
func (a *API) PutConfig(w http.ResponseWriter, r *http.Request) {
	var doc db.ConfigDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if doc.HeartbeatInterval <= 0 || doc.WindowMs <= 0 || doc.OfflineMs <= 0 {
		writeError(w, http.StatusBadRequest, "heartbeat_interval, window_ms and offline_ms must be positive")
		return
	}

	stored, err := a.DB.PutConfig(r.Context(), doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.Detector.SetWindow(time.Duration(stored.WindowMs) * time.Millisecond)
	writeJSON(w, http.StatusOK, stored)
}

func (a *API) GetReinitStatus(w http.ResponseWriter, r *http.Request) {
	active, recent, err := a.Reinit.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ReinitStatusResponse{Active: active, Recent: recent})
}

func (a *API) RequestReinit(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	flag, err := a.Reinit.Request(r.Context(), deviceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, ReinitResponse{Flags: []db.ReinitFlag{flag}})
}

func (a *API) RequestReinitAll(w http.ResponseWriter, r *http.Request) {
	flags := a.Reinit.RequestAll(r.Context())
	writeJSON(w, http.StatusCreated, ReinitResponse{Flags: flags})
}

func queryLimit(r *http.Request) int {
	limit := defaultQueryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
