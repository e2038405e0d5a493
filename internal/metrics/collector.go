package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/rs/zerolog"

	"github.com/jfoltran/cdcingester/internal/replication"
	"github.com/jfoltran/cdcingester/pkg/lsn"
)

// Snapshot is the complete metrics state at a point in time, serialized
// directly as the `/api/v1/status` response body and as the payload the
// TUI polls.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	Phase      string    `json:"phase"`
	ElapsedSec float64   `json:"elapsed_sec"`

	// LSN tracking.
	LastLSN      string `json:"last_lsn"`
	ServerLSN    string `json:"server_lsn"`
	LagBytes     uint64 `json:"lag_bytes"`
	LagFormatted string `json:"lag_formatted"`

	// Decoded-event counters by kind.
	InsertCount  int64   `json:"insert_count"`
	UpdateCount  int64   `json:"update_count"`
	DeleteCount  int64   `json:"delete_count"`
	CommitCount  int64   `json:"commit_count"`
	EventsTotal  int64   `json:"events_total"`
	EventsPerSec float64 `json:"events_per_sec"`

	RelationCount int `json:"relation_count"`

	ReconnectCount int    `json:"reconnect_count"`
	ErrorCount     int    `json:"error_count"`
	LastError      string `json:"last_error,omitempty"`
}

// LogEntry represents a log line captured for the UI.
type LogEntry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Collector aggregates Session Manager metrics and provides snapshots for
// consumption by the HTTP API and TUI. It implements replication.Recorder
// directly so a running SessionManager can be pointed at one without any
// adapter layer.
type Collector struct {
	logger zerolog.Logger

	mu        sync.RWMutex
	phase     string
	startedAt time.Time
	lastLSN   pglogrepl.LSN
	serverLSN pglogrepl.LSN

	insertCount    atomic.Int64
	updateCount    atomic.Int64
	deleteCount    atomic.Int64
	commitCount    atomic.Int64
	relationCount  atomic.Int64
	reconnectCount atomic.Int64
	errorCount     atomic.Int64
	lastError      atomic.Value // string

	eventWindow *slidingWindow

	subMu       sync.Mutex
	subscribers map[chan Snapshot]struct{}

	logMu  sync.Mutex
	logs   []LogEntry
	logCap int

	done chan struct{}
}

// NewCollector creates a new Collector.
func NewCollector(logger zerolog.Logger) *Collector {
	c := &Collector{
		logger:      logger.With().Str("component", "metrics").Logger(),
		subscribers: make(map[chan Snapshot]struct{}),
		eventWindow: newSlidingWindow(60 * time.Second),
		logs:        make([]LogEntry, 0, 500),
		logCap:      500,
		done:        make(chan struct{}),
	}
	go c.broadcastLoop()
	return c
}

// SetPhase updates the current session phase (serve sets "connecting",
// then "streaming").
func (c *Collector) SetPhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phase
	if c.startedAt.IsZero() {
		c.startedAt = time.Now()
	}
}

// RecordDecoded implements replication.Recorder: counts one decoded event
// by kind and feeds the throughput window.
func (c *Collector) RecordDecoded(kind replication.EventKind) {
	switch kind {
	case replication.EventInsert:
		c.insertCount.Add(1)
	case replication.EventUpdate:
		c.updateCount.Add(1)
	case replication.EventDelete:
		c.deleteCount.Add(1)
	case replication.EventCommit:
		c.commitCount.Add(1)
	}
	c.eventWindow.Add(time.Now(), 1)
}

// RecordReconnect implements replication.Recorder.
func (c *Collector) RecordReconnect() {
	c.reconnectCount.Add(1)
}

// RecordError implements replication.Recorder.
func (c *Collector) RecordError(err error) {
	c.errorCount.Add(1)
	if err != nil {
		c.lastError.Store(err.Error())
	}
}

// RecordLSN implements replication.Recorder: records the position this
// ingester last reported to the server in its status feedback.
func (c *Collector) RecordLSN(pos pglogrepl.LSN) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastLSN = pos
}

// RecordServerLSN records the server's write position, independent of what
// this ingester has consumed, for lag calculation.
func (c *Collector) RecordServerLSN(pos pglogrepl.LSN) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverLSN = pos
}

// RecordRelations implements replication.Recorder.
func (c *Collector) RecordRelations(n int) {
	c.relationCount.Store(int64(n))
}

// AddLog appends a log entry to the ring buffer.
func (c *Collector) AddLog(entry LogEntry) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if len(c.logs) >= c.logCap {
		n := c.logCap / 4
		copy(c.logs, c.logs[n:])
		c.logs = c.logs[:len(c.logs)-n]
	}
	c.logs = append(c.logs, entry)
}

// Logs returns a copy of recent log entries.
func (c *Collector) Logs() []LogEntry {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	out := make([]LogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}

// Snapshot returns the current metrics state (thread-safe).
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	var elapsed float64
	if !c.startedAt.IsZero() {
		elapsed = now.Sub(c.startedAt).Seconds()
	}

	lagBytes := lsn.Lag(c.lastLSN, c.serverLSN)

	var lastErr string
	if v := c.lastError.Load(); v != nil {
		lastErr = v.(string)
	}

	insert := c.insertCount.Load()
	update := c.updateCount.Load()
	del := c.deleteCount.Load()
	commit := c.commitCount.Load()

	return Snapshot{
		Timestamp:      now,
		Phase:          c.phase,
		ElapsedSec:     elapsed,
		LastLSN:        c.lastLSN.String(),
		ServerLSN:      c.serverLSN.String(),
		LagBytes:       lagBytes,
		LagFormatted:   lsn.FormatLag(lagBytes, 0),
		InsertCount:    insert,
		UpdateCount:    update,
		DeleteCount:    del,
		CommitCount:    commit,
		EventsTotal:    insert + update + del + commit,
		EventsPerSec:   c.eventWindow.Rate(),
		RelationCount:  int(c.relationCount.Load()),
		ReconnectCount: int(c.reconnectCount.Load()),
		ErrorCount:     int(c.errorCount.Load()),
		LastError:      lastErr,
	}
}

// Subscribe returns a channel that receives periodic Snapshot updates.
func (c *Collector) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 4)
	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscription channel.
func (c *Collector) Unsubscribe(ch chan Snapshot) {
	c.subMu.Lock()
	delete(c.subscribers, ch)
	c.subMu.Unlock()
}

// Close stops the broadcast loop.
func (c *Collector) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Collector) broadcastLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			snap := c.Snapshot()
			c.subMu.Lock()
			for ch := range c.subscribers {
				select {
				case ch <- snap:
				default:
				}
			}
			c.subMu.Unlock()
		}
	}
}

// --- Sliding window for throughput calculation ---

type windowEntry struct {
	time  time.Time
	value float64
}

type slidingWindow struct {
	mu      sync.Mutex
	entries []windowEntry
	window  time.Duration
}

func newSlidingWindow(d time.Duration) *slidingWindow {
	return &slidingWindow{
		entries: make([]windowEntry, 0, 128),
		window:  d,
	}
}

func (w *slidingWindow) Add(t time.Time, val float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, windowEntry{time: t, value: val})
	w.evict(t)
}

func (w *slidingWindow) Rate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.evict(now)
	if len(w.entries) == 0 {
		return 0
	}
	var total float64
	for _, e := range w.entries {
		total += e.value
	}
	elapsed := now.Sub(w.entries[0].time).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	return total / elapsed
}

func (w *slidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].time.Before(cutoff) {
		i++
	}
	if i > 0 {
		copy(w.entries, w.entries[i:])
		w.entries = w.entries[:len(w.entries)-i]
	}
}
