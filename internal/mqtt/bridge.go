package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"chargeamps/internal/coordinator"
	"chargeamps/internal/metrics"
	"chargeamps/pkg/config"
)

// Commander executes connector writes received on command topics
type Commander interface {
	SetMode(ctx context.Context, chargePointID string, connectorID int, mode string) error
	SetMaxCurrent(ctx context.Context, chargePointID string, connectorID int, amps float64) error
}

// publisher is the part of the paho client used to emit state
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// StatusMessage is the payload of the status topic
type StatusMessage struct {
	State     string    `json:"state"`
	LastError string    `json:"lastError,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bridge publishes snapshots to MQTT and turns command topics into
// CommandGateway calls.
type Bridge struct {
	client   paho.Client
	pub      publisher
	cfg      config.MQTTConfig
	commands Commander
	timeout  time.Duration
}

// NewBridge creates the paho client. A retained "offline" status is
// registered as last will so consumers notice a dead bridge.
func NewBridge(cfg config.MQTTConfig, commands Commander, commandTimeout time.Duration) *Bridge {
	b := &Bridge{cfg: cfg, commands: commands, timeout: commandTimeout}

	will, _ := json.Marshal(StatusMessage{State: "offline"})

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetMaxReconnectInterval(2 * time.Minute)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetBinaryWill(StatusTopic(cfg.TopicPrefix), will, byte(cfg.QoS), true)

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(c paho.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT client connected")
		b.publishStatus("online", "")
		filter := CommandFilter(cfg.TopicPrefix)
		if token := c.Subscribe(filter, byte(cfg.QoS), b.onMessage); token.Wait() && token.Error() != nil {
			log.Error().Err(token.Error()).Str("filter", filter).Msg("Failed to subscribe to command topics")
		}
	})

	b.client = paho.NewClient(opts)
	b.pub = b.client
	return b
}

// Connect establishes the broker connection
func (b *Bridge) Connect() error {
	token := b.client.Connect()
	if !token.WaitTimeout(b.cfg.ConnectTimeout) {
		return fmt.Errorf("timed out connecting to MQTT broker %s", b.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Disconnect publishes the offline status and closes the connection
func (b *Bridge) Disconnect() {
	if b.client == nil || !b.client.IsConnected() {
		return
	}
	b.publishStatus("offline", "")
	b.client.Disconnect(250)
	log.Info().Msg("MQTT client disconnected")
}

// Run publishes state for every update until updates is closed or ctx is done.
func (b *Bridge) Run(ctx context.Context, updates <-chan coordinator.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(u)
		}
	}
}

func (b *Bridge) handleUpdate(u coordinator.Update) {
	if u.Kind == coordinator.UpdateFailed {
		errText := ""
		if u.Err != nil {
			errText = u.Err.Error()
		}
		b.publishStatus("online", errText)
		return
	}

	for id, cp := range u.Snapshot {
		payload, err := json.Marshal(cp)
		if err != nil {
			log.Error().Err(err).Str("charge_point_id", id).Msg("Failed to encode charge point state")
			continue
		}
		b.publish(StateTopic(b.cfg.TopicPrefix, id), payload)
	}
	if u.Kind == coordinator.UpdateRefreshed {
		b.publishStatus("online", "")
	}
}

func (b *Bridge) publishStatus(state, lastError string) {
	payload, _ := json.Marshal(StatusMessage{State: state, LastError: lastError, Timestamp: time.Now().UTC()})
	b.publish(StatusTopic(b.cfg.TopicPrefix), payload)
}

func (b *Bridge) publish(topic string, payload []byte) {
	token := b.pub.Publish(topic, byte(b.cfg.QoS), b.cfg.Retain, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			metrics.MQTTMessagesTotal.WithLabelValues("out", "failure").Inc()
			log.Warn().Err(err).Str("topic", topic).Msg("MQTT publish failed")
			return
		}
		metrics.MQTTMessagesTotal.WithLabelValues("out", "success").Inc()
	}()
}

func (b *Bridge) onMessage(_ paho.Client, msg paho.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.handleCommand(ctx, msg.Topic(), msg.Payload()); err != nil {
		metrics.MQTTMessagesTotal.WithLabelValues("in", "failure").Inc()
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("MQTT command failed")
		return
	}
	metrics.MQTTMessagesTotal.WithLabelValues("in", "success").Inc()
}

// handleCommand decodes one command message. Mode accepts ON/OFF as aliases
// for Charging/Off; max current is a plain number in amperes.
func (b *Bridge) handleCommand(ctx context.Context, topic string, payload []byte) error {
	cmd, err := ParseCommandTopic(b.cfg.TopicPrefix, topic)
	if err != nil {
		return err
	}
	value := strings.TrimSpace(string(payload))

	switch cmd.Setting {
	case SettingMode:
		switch strings.ToLower(value) {
		case "on":
			value = coordinator.ModeCharging
		case "off":
			value = coordinator.ModeOff
		}
		return b.commands.SetMode(ctx, cmd.ChargePointID, cmd.ConnectorID, value)
	case SettingMaxCurrent:
		amps, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid max current %q: %w", value, err)
		}
		return b.commands.SetMaxCurrent(ctx, cmd.ChargePointID, cmd.ConnectorID, amps)
	}
	return fmt.Errorf("unsupported setting %q", cmd.Setting)
}
