package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"chargeamps/internal/metrics"
)

// DefaultPollInterval is the refresh cadence when none is configured.
const DefaultPollInterval = 30 * time.Second

// State is the phase of the refresh state machine.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateNormalizing
	StatePublished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateNormalizing:
		return "normalizing"
	case StatePublished:
		return "published"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON status documents
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ChargePointSource is the read side of the eAPI used by the poller.
type ChargePointSource interface {
	GetChargePoints(ctx context.Context) ([]any, error)
}

// Options configures a Coordinator
type Options struct {
	PollInterval time.Duration
}

// Status summarizes the coordinator for health and status endpoints.
// Outcome is the result of the most recent cycle (Published or Failed), or
// Idle before the first cycle completes.
type Status struct {
	State        State     `json:"state"`
	Outcome      State     `json:"outcome"`
	LastRefresh  time.Time `json:"lastRefresh"`
	LastSuccess  time.Time `json:"lastSuccess"`
	LastError    string    `json:"lastError,omitempty"`
	ChargePoints int       `json:"chargePoints"`
	Connectors   int       `json:"connectors"`
}

// Coordinator owns the Snapshot. It replaces it wholesale after each successful
// poll and lets the CommandGateway patch single connector settings.
type Coordinator struct {
	source   ChargePointSource
	interval time.Duration

	// cycleMu keeps scheduled and on-demand refreshes from overlapping
	cycleMu sync.Mutex

	// writeMu serializes snapshot replacement, patches and their notifications
	writeMu  sync.Mutex
	snapshot atomic.Pointer[Snapshot]
	// patches confirmed while a fetch is in flight, replayed onto its result
	fetching bool
	pending  []settingPatch

	statusMu sync.RWMutex
	status   Status

	subsMu  sync.Mutex
	subs    map[uint64]chan Update
	nextSub uint64
}

type settingPatch struct {
	chargePointID string
	connectorID   int
	key           string
	value         any
}

// New creates a Coordinator with an empty snapshot.
func New(source ChargePointSource, opts Options) *Coordinator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	c := &Coordinator{
		source:   source,
		interval: opts.PollInterval,
		subs:     make(map[uint64]chan Update),
	}
	empty := Snapshot{}
	c.snapshot.Store(&empty)
	return c
}

// Interval returns the poll cadence
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// Run refreshes immediately and then on every tick until ctx is cancelled.
// A failed cycle is reported and the schedule continues.
func (c *Coordinator) Run(ctx context.Context) error {
	log.Info().Dur("interval", c.interval).Msg("Starting charge point poller")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Charge point poller stopping due to context cancellation")
			return nil
		case <-ticker.C:
			c.runCycle(ctx)
		}
	}
}

func (c *Coordinator) runCycle(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("Charge point refresh failed, keeping previous snapshot")
	}
}

// Refresh runs one fetch/normalize/publish cycle. On failure the current
// snapshot is left untouched and the error is returned and broadcast.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	start := time.Now()
	c.setState(StateFetching)

	c.writeMu.Lock()
	c.fetching = true
	c.pending = nil
	c.writeMu.Unlock()

	docs, err := c.source.GetChargePoints(ctx)
	if err != nil {
		c.fail(err, start)
		return err
	}

	c.setState(StateNormalizing)
	snap, warnings := Normalize(docs)
	for _, w := range warnings {
		log.Warn().
			Str("kind", w.Kind).
			Str("charge_point_id", w.ChargePointID).
			Int("index", w.Index).
			Str("reason", w.Reason).
			Msg("Skipping malformed record")
		metrics.PartialDataWarningsTotal.WithLabelValues(w.Kind).Inc()
	}

	now := time.Now()
	c.writeMu.Lock()
	// the fetch may predate these writes
	for _, p := range c.pending {
		if next, ok := snap.withConnectorSetting(p.chargePointID, p.connectorID, p.key, p.value); ok {
			snap = next
		}
	}
	if len(c.pending) > 0 {
		log.Debug().Int("patches", len(c.pending)).Msg("Replayed connector writes onto fetched snapshot")
	}
	c.fetching = false
	c.pending = nil
	c.snapshot.Store(&snap)
	c.broadcast(Update{Kind: UpdateRefreshed, Snapshot: snap, Warnings: warnings, At: now})
	c.writeMu.Unlock()

	c.statusMu.Lock()
	c.status.State = StatePublished
	c.status.Outcome = StatePublished
	c.status.LastRefresh = now
	c.status.LastSuccess = now
	c.status.LastError = ""
	c.statusMu.Unlock()

	metrics.RefreshCyclesTotal.WithLabelValues("success").Inc()
	metrics.RefreshDuration.Observe(time.Since(start).Seconds())

	log.Debug().
		Int("charge_points", len(snap)).
		Int("connectors", snap.ConnectorCount()).
		Int("warnings", len(warnings)).
		Dur("duration", time.Since(start)).
		Msg("Snapshot published")

	c.setState(StateIdle)
	return nil
}

func (c *Coordinator) fail(err error, start time.Time) {
	now := time.Now()

	c.statusMu.Lock()
	c.status.State = StateFailed
	c.status.Outcome = StateFailed
	c.status.LastRefresh = now
	c.status.LastError = err.Error()
	c.statusMu.Unlock()

	metrics.RefreshCyclesTotal.WithLabelValues("failure").Inc()
	metrics.RefreshDuration.Observe(time.Since(start).Seconds())

	c.writeMu.Lock()
	c.fetching = false
	c.pending = nil
	c.broadcast(Update{Kind: UpdateFailed, Snapshot: *c.snapshot.Load(), Err: err, At: now})
	c.writeMu.Unlock()

	c.setState(StateIdle)
}

func (c *Coordinator) setState(s State) {
	c.statusMu.Lock()
	c.status.State = s
	c.statusMu.Unlock()
}

// Snapshot returns the live snapshot. The returned value must be treated as
// read-only; it is never modified after publication.
func (c *Coordinator) Snapshot() Snapshot {
	return *c.snapshot.Load()
}

// ChargePoint looks up one charge point in the live snapshot
func (c *Coordinator) ChargePoint(id string) (ChargePoint, bool) {
	cp, ok := c.Snapshot()[id]
	return cp, ok
}

// Connector looks up one connector in the live snapshot
func (c *Coordinator) Connector(chargePointID string, connectorID int) (Connector, bool) {
	cp, ok := c.ChargePoint(chargePointID)
	if !ok {
		return Connector{}, false
	}
	conn, ok := cp.Connectors[connectorID]
	return conn, ok
}

// Status returns the current state and the counters of the live snapshot.
func (c *Coordinator) Status() Status {
	c.statusMu.RLock()
	st := c.status
	c.statusMu.RUnlock()

	snap := c.Snapshot()
	st.ChargePoints = len(snap)
	st.Connectors = snap.ConnectorCount()
	return st
}

// patchConnectorSetting applies a confirmed write to the live snapshot by
// publishing a copy with one setting changed. It reports false, leaving the
// snapshot as is, when the connector is not part of it.
func (c *Coordinator) patchConnectorSetting(chargePointID string, connectorID int, key string, value any) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next, ok := c.snapshot.Load().withConnectorSetting(chargePointID, connectorID, key, value)
	if !ok {
		return false
	}
	if c.fetching {
		c.pending = append(c.pending, settingPatch{chargePointID, connectorID, key, value})
	}
	c.snapshot.Store(&next)
	c.broadcast(Update{Kind: UpdatePatched, Snapshot: next, At: time.Now()})
	return true
}
