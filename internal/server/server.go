package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"chargeamps/internal/coordinator"
	"chargeamps/internal/metrics"
	"chargeamps/pkg/config"
)

// Commands is the connector control surface exposed over HTTP
type Commands interface {
	SetMode(ctx context.Context, chargePointID string, connectorID int, mode string) error
	SetMaxCurrent(ctx context.Context, chargePointID string, connectorID int, amps float64) error
	Enable(ctx context.Context, chargePointID string, connectorID int) error
	Disable(ctx context.Context, chargePointID string, connectorID int) error
}

// Server serves the status and control API on top of a Coordinator.
type Server struct {
	coordinator     *coordinator.Coordinator
	commands        Commands
	httpServer      *http.Server
	upgrader        websocket.Upgrader
	shutdownTimeout time.Duration
}

// New creates the API server. Nothing listens until Run is called.
func New(cfg config.ServerConfig, coord *coordinator.Coordinator, commands Commands) *Server {
	s := &Server{
		coordinator:     coord,
		commands:        commands,
		shutdownTimeout: cfg.ShutdownTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 10 * time.Second
	}

	// h2c keeps plain HTTP/1.1 and websocket upgrades working while allowing
	// HTTP/2 clients without TLS
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the routed API handler
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(metrics.HTTPMetricsMiddleware)

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/status", s.handleStatus).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/chargepoints", s.handleListChargePoints).Methods("GET")
	api.HandleFunc("/chargepoints/{id}", s.handleGetChargePoint).Methods("GET")

	connector := api.PathPrefix("/chargepoints/{id}/connectors/{connectorId:[0-9]+}").Subrouter()
	connector.HandleFunc("/mode", s.handleSetMode).Methods("PUT")
	connector.HandleFunc("/max-current", s.handleSetMaxCurrent).Methods("PUT")
	connector.HandleFunc("/enable", s.handleEnable).Methods("POST")
	connector.HandleFunc("/disable", s.handleDisable).Methods("POST")

	api.HandleFunc("/events", s.handleEvents).Methods("GET")

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully. Open
// websocket streams are closed through their request context.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", s.httpServer.Addr).Msg("Starting HTTP API server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
