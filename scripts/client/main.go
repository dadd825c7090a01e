package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"time"
)

// Sensor simulator: behaves like one seismometer node against a running
// server. Calls init, heartbeats on the configured interval, and posts a
// random event now and then. A 205 heartbeat response triggers a simulated
// reboot (a fresh init call), exercising the reinit handshake end to end.

type initResponse struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
	Sensitivity       struct {
		Minor    float64 `json:"minor"`
		Moderate float64 `json:"moderate"`
		Severe   float64 `json:"severe"`
	} `json:"sensitivity"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "server base URL")
	deviceID := flag.String("id", "5C:CF:7F:00:00:01", "device identifier")
	eventEvery := flag.Int("event-every", 5, "post an event every N heartbeats (0 = never)")
	flag.Parse()

	cfg := doInit(*baseURL, *deviceID)
	interval := time.Duration(cfg.HeartbeatInterval) * time.Millisecond
	fmt.Printf("init ok: heartbeat=%s thresholds=%.3f/%.3f/%.3f\n",
		interval, cfg.Sensitivity.Minor, cfg.Sensitivity.Moderate, cfg.Sensitivity.Severe)

	for beat := 1; ; beat++ {
		resp, err := http.Get(fmt.Sprintf("%s/?id=%s", *baseURL, *deviceID))
		if err != nil {
			fmt.Println("heartbeat failed:", err)
			time.Sleep(interval)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusResetContent {
			fmt.Println("received 205, rebooting...")
			time.Sleep(2 * time.Second)
			cfg = doInit(*baseURL, *deviceID)
			interval = time.Duration(cfg.HeartbeatInterval) * time.Millisecond
			continue
		}
		fmt.Println("heartbeat:", resp.Status)

		if *eventEvery > 0 && beat%*eventEvery == 0 {
			postEvent(*baseURL, *deviceID, cfg)
		}
		time.Sleep(interval)
	}
}

func doInit(baseURL, deviceID string) initResponse {
	resp, err := http.Get(fmt.Sprintf("%s/api/init?id=%s&version=sim-1.0", baseURL, deviceID))
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()
	var cfg initResponse
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		panic(err)
	}
	return cfg
}

func postEvent(baseURL, deviceID string, cfg initResponse) {
	levels := []struct {
		name   string
		deltaG float64
	}{
		{"minor", cfg.Sensitivity.Minor + 0.005},
		{"moderate", cfg.Sensitivity.Moderate + 0.02},
		{"severe", cfg.Sensitivity.Severe + 0.1},
	}
	pick := levels[rand.Intn(len(levels))]

	payload, _ := json.Marshal(map[string]any{
		"id":     deviceID,
		"level":  pick.name,
		"deltaG": pick.deltaG,
	})
	resp, err := http.Post(baseURL+"/api/seismic", "application/json", bytes.NewBuffer(payload))
	if err != nil {
		fmt.Println("event post failed:", err)
		return
	}
	resp.Body.Close()
	fmt.Printf("posted %s event (%.3fg): %s\n", pick.name, pick.deltaG, resp.Status)
}
