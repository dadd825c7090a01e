package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
)

// End-to-end consensus scenario against a running stack:
// 1. Post one event per known device inside a single window.
// 2. Wait for the window to close.
// 3. Assert exactly one new consensus record via the API.
// 4. Tail the notifications topic and confirm a consensus envelope arrived.

type consensusResponse struct {
	Records []struct {
		ID      int64    `json:"id"`
		Aliases []string `json:"aliases"`
	} `json:"records"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "server base URL")
	brokers := flag.String("brokers", "localhost:9092", "kafka brokers")
	topic := flag.String("topic", "seismo-notifications", "notifications topic")
	flag.Parse()

	devices := []struct {
		id     string
		level  string
		deltaG float64
	}{
		{"5C:CF:7F:00:00:01", "minor", 0.04},
		{"5C:CF:7F:00:00:02", "moderate", 0.12},
		{"5C:CF:7F:00:00:03", "severe", 0.6},
	}

	before := fetchConsensusCount(*baseURL)

	// Start tailing the topic before posting so the consensus envelope is
	// not missed.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{*brokers},
		Topic:       *topic,
		StartOffset: kafka.LastOffset,
	})
	defer reader.Close()

	for _, d := range devices {
		payload, _ := json.Marshal(map[string]any{
			"id":     d.id,
			"level":  d.level,
			"deltaG": d.deltaG,
		})
		resp, err := http.Post(*baseURL+"/api/seismic", "application/json", bytes.NewBuffer(payload))
		if err != nil {
			fail("event post failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			fail("event post for %s returned %s", d.id, resp.Status)
		}
		fmt.Printf("posted %s event for %s\n", d.level, d.id)
		time.Sleep(200 * time.Millisecond)
	}

	// Default window is 2s from the first report; wait it out with margin.
	time.Sleep(4 * time.Second)

	after := fetchConsensusCount(*baseURL)
	if after != before+1 {
		fail("expected %d consensus records, got %d", before+1, after)
	}
	fmt.Println("consensus record created")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			fail("no consensus envelope on topic: %v", err)
		}
		var envelope struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(m.Value, &envelope); err != nil {
			continue
		}
		if envelope.Kind == "consensus" {
			fmt.Println("consensus envelope observed on notifications topic")
			break
		}
	}

	fmt.Println("e2e scenario passed")
}

func fetchConsensusCount(baseURL string) int {
	resp, err := http.Get(baseURL + "/api/consensus?limit=1000")
	if err != nil {
		fail("consensus query failed: %v", err)
	}
	defer resp.Body.Close()
	var out consensusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fail("consensus decode failed: %v", err)
	}
	return len(out.Records)
}

func fail(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}
