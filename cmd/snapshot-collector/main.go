// Command snapshot-collector polls the API server's stats endpoint, computes the
// change since the previous snapshot and keeps a bounded JSON history for
// dashboards.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/WessleyAI/vanfleet/engine/graph"
)

const maxHistory = 288

// Snapshot is one stats reading.
type Snapshot struct {
	Timestamp time.Time        `json:"timestamp"`
	Stats     graph.FleetStats `json:"stats"`
}

// Delta is the change between two consecutive snapshots.
type Delta struct {
	Timestamp        time.Time        `json:"timestamp"`
	Period           string           `json:"period"`
	NewVans          int64            `json:"new_vans"`
	NewImages        int64            `json:"new_images"`
	NeedsMaintenance int64            `json:"needs_maintenance_delta"`
	ByCondition      map[string]int64 `json:"by_condition"`
}

func main() {
	var (
		apiURL   = flag.String("api", "http://localhost:8080", "API base URL")
		dataDir  = flag.String("data-dir", "snapshots", "output directory")
		interval = flag.Duration("interval", 0, "poll interval, 0 to collect once")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &collector{
		client: &http.Client{Timeout: 30 * time.Second},
		api:    *apiURL,
		dir:    *dataDir,
		now:    time.Now,
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		logger.Error("create data dir", "err", err)
		os.Exit(1)
	}

	for {
		d, err := c.collect(ctx)
		if err != nil {
			logger.Error("collect snapshot", "err", err)
			if *interval == 0 {
				os.Exit(1)
			}
		} else {
			logger.Info("snapshot collected", "new_vans", d.NewVans, "new_images", d.NewImages, "needs_maintenance_delta", d.NeedsMaintenance)
		}
		if *interval == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(*interval):
		}
	}
}

type collector struct {
	client *http.Client
	api    string
	dir    string
	now    func() time.Time
}

func (c *collector) paths() (latest, history, prev string) {
	return filepath.Join(c.dir, "stats-latest.json"),
		filepath.Join(c.dir, "stats-history.json"),
		filepath.Join(c.dir, ".stats-prev.json")
}

// collect takes one snapshot and appends its delta to the history.
func (c *collector) collect(ctx context.Context) (Delta, error) {
	cur, err := c.fetch(ctx)
	if err != nil {
		return Delta{}, err
	}
	latestPath, historyPath, prevPath := c.paths()

	var prev Snapshot
	hasPrev := readJSON(prevPath, &prev) == nil
	delta := computeDelta(prev, cur, hasPrev)

	var history []Delta
	if err := readJSON(historyPath, &history); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Delta{}, err
	}
	history = append(history, delta)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}

	for path, v := range map[string]any{latestPath: cur, historyPath: history, prevPath: cur} {
		if err := writeJSON(path, v); err != nil {
			return Delta{}, err
		}
	}
	return delta, nil
}

func (c *collector) fetch(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.api+"/api/stats", nil)
	if err != nil {
		return Snapshot{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch stats: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read stats: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("stats returned %d: %s", resp.StatusCode, body)
	}
	snap := Snapshot{Timestamp: c.now().UTC()}
	if err := json.Unmarshal(body, &snap.Stats); err != nil {
		return Snapshot{}, fmt.Errorf("parse stats: %w", err)
	}
	return snap, nil
}

// computeDelta compares cur against prev. Without a previous snapshot the
// delta is measured from zero.
func computeDelta(prev, cur Snapshot, hasPrev bool) Delta {
	d := Delta{
		Timestamp:        cur.Timestamp,
		NewVans:          cur.Stats.Vans - prev.Stats.Vans,
		NewImages:        cur.Stats.Images - prev.Stats.Images,
		NeedsMaintenance: cur.Stats.NeedsMaintenance - prev.Stats.NeedsMaintenance,
		ByCondition:      make(map[string]int64),
	}
	if hasPrev {
		d.Period = cur.Timestamp.Sub(prev.Timestamp).Round(time.Second).String()
	}
	keys := slices.Collect(maps.Keys(cur.Stats.ByCondition))
	keys = append(keys, slices.Collect(maps.Keys(prev.Stats.ByCondition))...)
	for _, k := range keys {
		d.ByCondition[k] = cur.Stats.ByCondition[k] - prev.Stats.ByCondition[k]
	}
	return d
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
