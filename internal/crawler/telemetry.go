package crawler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// telemetry accumulates run counters and renders a snapshot on close.
type telemetry struct {
	mu           sync.Mutex
	runID        string
	start        time.Time
	responses    int
	unchanged    int
	articles     int
	errors       int
	bytes        int64
	latency      time.Duration
	statusCounts map[string]int
	blockCounts  map[string]int
}

// Snapshot is the telemetry.json document.
type Snapshot struct {
	RunID           string         `json:"run_id"`
	Reason          string         `json:"reason"`
	Responses       int            `json:"responses"`
	Unchanged       int            `json:"unchanged"`
	Articles        int            `json:"articles"`
	Errors          int            `json:"errors"`
	Bytes           int64          `json:"bytes"`
	ResponsesPerSec float64        `json:"responses_per_sec"`
	AvgLatencyMS    float64        `json:"avg_latency_ms"`
	StatusCounts    map[string]int `json:"status_counts"`
	BlockCounts     map[string]int `json:"block_counts"`
	BlockRate       float64        `json:"block_rate"`
	ElapsedSec      float64        `json:"elapsed_sec"`
}

func newTelemetry() *telemetry {
	return &telemetry{
		runID:        uuid.NewString(),
		start:        time.Now(),
		statusCounts: make(map[string]int),
		blockCounts:  make(map[string]int),
	}
}

func (t *telemetry) recordResponse(status int, size int, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.responses++
	t.bytes += int64(size)
	t.latency += elapsed
	t.statusCounts[strconv.Itoa(status)]++
}

func (t *telemetry) recordUnchanged() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.unchanged++
}

func (t *telemetry) recordArticle() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.articles++
}

func (t *telemetry) recordError() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.errors++
}

func (t *telemetry) recordBlock(kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.blockCounts[kind]++
}

func (t *telemetry) snapshot(reason string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.start)

	snap := Snapshot{
		RunID:        t.runID,
		Reason:       reason,
		Responses:    t.responses,
		Unchanged:    t.unchanged,
		Articles:     t.articles,
		Errors:       t.errors,
		Bytes:        t.bytes,
		StatusCounts: t.statusCounts,
		BlockCounts:  t.blockCounts,
		ElapsedSec:   elapsed.Seconds(),
	}

	if elapsed > 0 {
		snap.ResponsesPerSec = float64(t.responses) / elapsed.Seconds()
	}

	if t.responses > 0 {
		snap.AvgLatencyMS = float64(t.latency.Milliseconds()) / float64(t.responses)

		blocks := 0
		for _, n := range t.blockCounts {
			blocks += n
		}

		snap.BlockRate = float64(blocks) / float64(t.responses)
	}

	return snap
}

// write persists the snapshot under the output directory.
func (t *telemetry) write(dir, reason string) error {
	data, err := json.MarshalIndent(t.snapshot(reason), "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, telemetryFile), data, 0o644)
}
