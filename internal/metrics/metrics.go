package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bridge metrics collectors
var (
	// Poll cycles

	RefreshCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chargeamps_refresh_cycles_total",
			Help: "Total number of snapshot refresh cycles",
		},
		[]string{"status"},
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chargeamps_refresh_duration_seconds",
			Help:    "Snapshot refresh cycle duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	PartialDataWarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chargeamps_partial_data_warnings_total",
			Help: "Total number of remote records skipped during normalization",
		},
		[]string{"kind"},
	)

	UpdatesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chargeamps_updates_dropped_total",
			Help: "Total number of snapshot updates dropped for slow subscribers",
		},
	)

	// Snapshot state

	ChargePoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chargeamps_charge_points",
			Help: "Number of charge points in the current snapshot",
		},
	)

	Connectors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chargeamps_connectors",
			Help: "Number of connectors in the current snapshot by mode",
		},
		[]string{"mode"},
	)

	ConnectorMaxCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chargeamps_connector_max_current_amperes",
			Help: "Configured max current per connector",
		},
		[]string{"charge_point_id", "connector_id"},
	)

	SnapshotAgeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chargeamps_snapshot_age_seconds",
			Help: "Seconds since the last successful snapshot refresh",
		},
	)

	TokenExpirySeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chargeamps_token_expiry_seconds",
			Help: "Seconds until the current access token expires (0 when unknown)",
		},
	)

	// Commands

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chargeamps_commands_total",
			Help: "Total number of connector commands executed",
		},
		[]string{"operation", "status"},
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chargeamps_command_duration_seconds",
			Help:    "Connector command latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	// Upstream eAPI

	EAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chargeamps_eapi_requests_total",
			Help: "Total number of HTTP requests sent to the eAPI",
		},
		[]string{"code", "method"},
	)

	EAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chargeamps_eapi_request_duration_seconds",
			Help:    "eAPI request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// Sinks

	MQTTMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chargeamps_mqtt_messages_total",
			Help: "Total number of MQTT messages by direction",
		},
		[]string{"direction", "status"},
	)

	StoreWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chargeamps_store_writes_total",
			Help: "Total number of snapshot mirror writes",
		},
		[]string{"status"},
	)

	// HTTP API

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chargeamps_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chargeamps_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)
