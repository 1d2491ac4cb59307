package metrics

import (
	"context"
	"strconv"
	"time"
)

// ConnectorSample is the state of one connector at collection time
type ConnectorSample struct {
	ChargePointID string
	ConnectorID   int
	Mode          string
	MaxCurrent    float64
	HasMaxCurrent bool
}

// Sample is a point-in-time view of the bridge used to refresh the gauges.
type Sample struct {
	ChargePoints   int
	Connectors     []ConnectorSample
	LastSuccess    time.Time
	TokenExpiresAt time.Time
}

// Sampler provides access to bridge state for metrics collection
type Sampler interface {
	Sample() Sample
}

// Collector periodically updates gauge metrics from bridge state
type Collector struct {
	sampler  Sampler
	interval time.Duration
	now      func() time.Time
}

// NewCollector creates a new metrics collector
func NewCollector(sampler Sampler, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	return &Collector{
		sampler:  sampler,
		interval: interval,
		now:      time.Now,
	}
}

// Start collects immediately and then on every tick until ctx is done.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Collect updates all gauges from one sample.
func (c *Collector) Collect() {
	s := c.sampler.Sample()
	now := c.now()

	ChargePoints.Set(float64(s.ChargePoints))

	Connectors.Reset()
	ConnectorMaxCurrent.Reset()
	for _, conn := range s.Connectors {
		mode := conn.Mode
		if mode == "" {
			mode = "unknown"
		}
		Connectors.WithLabelValues(mode).Inc()
		if conn.HasMaxCurrent {
			ConnectorMaxCurrent.WithLabelValues(conn.ChargePointID, strconv.Itoa(conn.ConnectorID)).Set(conn.MaxCurrent)
		}
	}

	if s.LastSuccess.IsZero() {
		SnapshotAgeSeconds.Set(0)
	} else {
		SnapshotAgeSeconds.Set(now.Sub(s.LastSuccess).Seconds())
	}

	if s.TokenExpiresAt.IsZero() {
		TokenExpirySeconds.Set(0)
	} else {
		TokenExpirySeconds.Set(s.TokenExpiresAt.Sub(now).Seconds())
	}
}
