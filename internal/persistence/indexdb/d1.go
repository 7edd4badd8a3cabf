package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dissonance.ai/internal/persistence/snapshot"
	"dissonance.ai/internal/sim/catalogs"
	"dissonance.ai/internal/sim/game"
	"dissonance.ai/internal/sim/tuning"
)

// D1Config points the index at an HTTP ingest endpoint (a Cloudflare D1
// worker in production) instead of a local SQLite file.
type D1Config struct {
	Endpoint      string
	Token         string
	GameID        string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        *log.Logger
}

type D1Index struct {
	cfg        D1Config
	httpClient *http.Client

	ch   chan d1Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	auditMu       sync.Mutex
	lastAuditTick uint64
	auditSeq      int

	dropped    atomic.Uint64
	flushFails atomic.Uint64
}

type D1Stats struct {
	QueueDepth        int
	QueueDroppedTotal uint64
	FlushFailTotal    uint64
}

type d1Event struct {
	Kind    string `json:"kind"`
	GameID  string `json:"game_id"`
	Payload any    `json:"payload"`
}

type d1GamePayload struct {
	Seed         int64    `json:"seed,omitempty"`
	Names        []string `json:"names,omitempty"`
	At           string   `json:"at"`
	Loser        *int     `json:"loser,omitempty"`
	Ticks        uint64   `json:"ticks,omitempty"`
	SnapshotPath string   `json:"snapshot_path,omitempty"`
}

type d1TickPayload struct {
	Tick     uint64                 `json:"tick"`
	TimeMs   int64                  `json:"time_ms"`
	Digest   string                 `json:"digest"`
	Commands []game.RecordedCommand `json:"commands,omitempty"`
}

type d1AuditPayload struct {
	Seq int             `json:"seq"`
	Raw game.AuditEntry `json:"raw"`
}

type d1SnapshotPayload struct {
	Tick       uint64 `json:"tick"`
	Path       string `json:"path"`
	Status     string `json:"status"`
	Structures [2]int `json:"structures"`
	Potentials [2]int `json:"potentials"`
	Voltage    [2]int `json:"voltage"`
}

type d1CatalogPayload struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	JSON      string `json:"json"`
	UpdatedAt string `json:"updated_at"`
}

func OpenD1(cfg D1Config) (*D1Index, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.GameID = strings.TrimSpace(cfg.GameID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty d1 ingest endpoint")
	}
	if cfg.GameID == "" {
		return nil, fmt.Errorf("empty game id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	d := &D1Index{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan d1Event, 32768),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *D1Index) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *D1Index) RecordGameStart(id string, seed int64, names [game.Seats]string, started time.Time) {
	d.enqueue(d1Event{Kind: "game_start", GameID: id, Payload: d1GamePayload{
		Seed:  seed,
		Names: names[:],
		At:    started.UTC().Format(time.RFC3339Nano),
	}})
}

func (d *D1Index) RecordGameEnd(id string, loser int, ticks uint64, ended time.Time, snapshotPath string) {
	p := d1GamePayload{
		At:           ended.UTC().Format(time.RFC3339Nano),
		Ticks:        ticks,
		SnapshotPath: snapshotPath,
	}
	if loser >= 0 {
		p.Loser = &loser
	}
	d.enqueue(d1Event{Kind: "game_end", GameID: id, Payload: p})
}

func (d *D1Index) WriteTick(entry game.TickLogEntry) error {
	d.enqueue(d1Event{Kind: "tick", GameID: entry.GameID, Payload: d1TickPayload{
		Tick:     entry.Tick,
		TimeMs:   entry.TimeMs,
		Digest:   entry.Digest,
		Commands: entry.Commands,
	}})
	return nil
}

func (d *D1Index) WriteAudit(entry game.AuditEntry) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	d.enqueue(d1Event{Kind: "audit", GameID: entry.GameID, Payload: d1AuditPayload{
		Seq: d.nextAuditSeq(entry.Tick),
		Raw: entry,
	}})
	return nil
}

func (d *D1Index) RecordSnapshot(path string, snap snapshot.Snapshot) {
	r := summarize(path, snap)
	d.enqueue(d1Event{Kind: "snapshot", GameID: r.GameID, Payload: d1SnapshotPayload{
		Tick:       r.Tick,
		Path:       r.Path,
		Status:     r.Status,
		Structures: r.Structures,
		Potentials: r.Potentials,
		Voltage:    r.Voltage,
	}})
}

func (d *D1Index) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if d == nil || d.closed.Load() || cats == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range catalogRows(configDir, cats, tune) {
		d.enqueue(d1Event{Kind: "catalog", GameID: d.cfg.GameID, Payload: d1CatalogPayload{
			Name:      r.name,
			Digest:    r.digest,
			JSON:      string(r.data),
			UpdatedAt: now,
		}})
	}
	return nil
}

func (d *D1Index) Stats() D1Stats {
	if d == nil {
		return D1Stats{}
	}
	return D1Stats{
		QueueDepth:        len(d.ch),
		QueueDroppedTotal: d.dropped.Load(),
		FlushFailTotal:    d.flushFails.Load(),
	}
}

func (d *D1Index) nextAuditSeq(tick uint64) int {
	d.auditMu.Lock()
	defer d.auditMu.Unlock()
	if tick != d.lastAuditTick {
		d.lastAuditTick = tick
		d.auditSeq = 0
	}
	d.auditSeq++
	return d.auditSeq
}

func (d *D1Index) enqueue(ev d1Event) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.dropped.Add(1)
		d.printf("d1 index queue full; drop kind=%s game=%s", ev.Kind, ev.GameID)
	}
}

func (d *D1Index) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	// A failed batch is kept and retried on the next flush. Beyond this
	// bound the oldest events are dropped.
	maxRetained := d.cfg.BatchSize * 64
	batch := make([]d1Event, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFails.Add(1)
			d.printf("d1 index flush failed batch=%d err=%v", len(batch), err)
			if over := len(batch) - maxRetained; over > 0 {
				d.dropped.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *D1Index) sendBatch(events []d1Event) error {
	body := struct {
		Events []d1Event `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-dsn-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *D1Index) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
