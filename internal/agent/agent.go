package agent

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"chargeamps/internal/coordinator"
	"chargeamps/internal/metrics"
	"chargeamps/internal/mqtt"
	"chargeamps/internal/server"
	"chargeamps/internal/store"
	"chargeamps/pkg/config"
	"chargeamps/pkg/eapi"
)

// subscriberBuffer is the update backlog each sink may hold before updates
// are dropped for it
const subscriberBuffer = 8

// Agent runs the poller and every enabled surface on top of it: the HTTP
// API, the metrics collector, the MQTT bridge and the Redis mirror.
type Agent struct {
	config      *config.Config
	client      *eapi.Gateway
	coordinator *coordinator.Coordinator
	commands    *coordinator.CommandGateway

	server    *server.Server
	collector *metrics.Collector
	mqtt      *mqtt.Bridge
	store     *store.RedisStore
}

// NewClient builds the eAPI gateway with an instrumented transport
func NewClient(cfg *config.Config) *eapi.Gateway {
	clientCfg := cfg.ClientConfig()
	clientCfg.HTTPClient = &http.Client{
		Transport: metrics.InstrumentTransport(http.DefaultTransport),
	}
	return eapi.NewClient(clientCfg, cfg.Credentials())
}

// New wires the components enabled in cfg. Nothing connects or polls until
// Start is called.
func New(cfg *config.Config) *Agent {
	client := NewClient(cfg)
	coord := coordinator.New(client, coordinator.Options{PollInterval: cfg.ChargeAmps.PollInterval})
	commands := coordinator.NewCommandGateway(client, coord)

	a := &Agent{
		config:      cfg,
		client:      client,
		coordinator: coord,
		commands:    commands,
	}

	if cfg.Server.Enabled {
		a.server = server.New(cfg.Server, coord, commands)
	}
	if cfg.Metrics.Enabled {
		a.collector = metrics.NewCollector(a, cfg.Metrics.CollectInterval)
	}
	if cfg.MQTT.Enabled {
		// a command may need a login and a retried request
		a.mqtt = mqtt.NewBridge(cfg.MQTT, commands, 3*cfg.ChargeAmps.RequestTimeout)
	}
	if cfg.Redis.Enabled {
		a.store = store.NewRedisStore(cfg.Redis)
	}
	return a
}

// Coordinator returns the snapshot owner
func (a *Agent) Coordinator() *coordinator.Coordinator {
	return a.coordinator
}

// Commands returns the connector command gateway
func (a *Agent) Commands() *coordinator.CommandGateway {
	return a.commands
}

// Start connects the optional sinks and runs every component until ctx is
// cancelled or the HTTP server fails.
func (a *Agent) Start(ctx context.Context) error {
	log.Info().
		Str("base_url", a.config.ChargeAmps.BaseURL).
		Dur("poll_interval", a.coordinator.Interval()).
		Bool("server", a.server != nil).
		Bool("metrics", a.collector != nil).
		Bool("mqtt", a.mqtt != nil).
		Bool("redis", a.store != nil).
		Msg("Starting Charge Amps agent")

	if a.store != nil {
		if err := a.store.Ping(ctx); err != nil {
			return fmt.Errorf("redis unavailable at %s: %w", a.config.Redis.Addr, err)
		}
		defer a.store.Close()
	}
	if a.mqtt != nil {
		if err := a.mqtt.Connect(); err != nil {
			return err
		}
		defer a.mqtt.Disconnect()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	run := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
			log.Debug().Str("component", name).Msg("Component stopped")
		}()
	}

	// subscribe before the first poll so sinks see the initial snapshot
	if a.store != nil {
		updates, unsubscribe := a.coordinator.Subscribe(subscriberBuffer)
		defer unsubscribe()
		run("redis", func() { a.store.Run(ctx, updates) })
	}
	if a.mqtt != nil {
		updates, unsubscribe := a.coordinator.Subscribe(subscriberBuffer)
		defer unsubscribe()
		run("mqtt", func() { a.mqtt.Run(ctx, updates) })
	}
	if a.collector != nil {
		run("metrics", func() { a.collector.Start(ctx) })
	}

	errCh := make(chan error, 1)
	if a.server != nil {
		run("server", func() {
			if err := a.server.Run(ctx); err != nil {
				errCh <- fmt.Errorf("http server failed: %w", err)
				cancel()
			}
		})
	}
	run("poller", func() { _ = a.coordinator.Run(ctx) })

	log.Info().Msg("Agent started successfully")
	wg.Wait()
	log.Info().Msg("Agent stopped")

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// Sample reports the bridge state for the metrics collector.
func (a *Agent) Sample() metrics.Sample {
	snap := a.coordinator.Snapshot()
	status := a.coordinator.Status()

	s := metrics.Sample{
		ChargePoints:   len(snap),
		Connectors:     make([]metrics.ConnectorSample, 0, snap.ConnectorCount()),
		LastSuccess:    status.LastSuccess,
		TokenExpiresAt: a.client.Auth().TokenExpiresAt(),
	}
	for _, cp := range snap {
		for _, conn := range cp.Connectors {
			amps, ok := conn.MaxCurrent()
			s.Connectors = append(s.Connectors, metrics.ConnectorSample{
				ChargePointID: cp.ID,
				ConnectorID:   conn.ID,
				Mode:          conn.Mode(),
				MaxCurrent:    amps,
				HasMaxCurrent: ok,
			})
		}
	}
	return s
}
