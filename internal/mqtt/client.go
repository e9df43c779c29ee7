package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ghouf2005/Agriculture-project/config"
	"github.com/ghouf2005/Agriculture-project/internal/models"
	"github.com/ghouf2005/Agriculture-project/internal/services"
	"go.uber.org/zap"
)

const (
	qosAtLeastOnce = 1
	publishTimeout = 5 * time.Second
	processTimeout = 30 * time.Second
)

// ErrNotConnected is returned when publishing without a broker connection
var ErrNotConnected = errors.New("MQTT client not connected")

// ReadingProcessor consumes parsed readings
type ReadingProcessor interface {
	Process(ctx context.Context, reading *models.SensorReading) (*services.Result, error)
}

// Client wraps the MQTT client with field gateway specific functionality:
// it feeds gateway readings into the pipeline and publishes anomalies and
// recommendations back to per-plot topics
type Client struct {
	client    mqtt.Client
	parser    *services.SensorParser
	processor ReadingProcessor
	topic     string
	logger    *zap.Logger
	connected atomic.Bool
	onError   func(reading *models.SensorReading, err error)
}

// NewClient creates a new MQTT client for the plot gateways
func NewClient(cfg config.MQTTConfig, processor ReadingProcessor, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetPingTimeout(cfg.PingTimeout)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(cfg.ConnectRetry)
	opts.SetConnectRetryInterval(5 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := &Client{
		parser:    services.NewSensorParser(),
		processor: processor,
		topic:     cfg.TopicReadings,
		logger:    logger,
	}

	opts.SetDefaultPublishHandler(client.defaultMessageHandler)
	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)

	client.client = mqtt.NewClient(opts)
	return client
}

// Connect establishes the connection to the broker. Subscriptions are
// (re)made on every connect.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("connecting to MQTT broker")

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Disconnect closes the MQTT connection
func (c *Client) Disconnect() {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
		c.connected.Store(false)
		c.logger.Info("disconnected from MQTT broker")
	}
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnected()
}

// subscribe subscribes to the gateway readings topic
func (c *Client) subscribe() error {
	token := c.client.Subscribe(c.topic, qosAtLeastOnce, c.sensorDataHandler)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out subscribing to topic %s", c.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.topic, err)
	}
	c.logger.Info("subscribed to topic", zap.String("topic", c.topic))
	return nil
}

// sensorDataHandler processes incoming sensor data messages
func (c *Client) sensorDataHandler(_ mqtt.Client, msg mqtt.Message) {
	c.handleMessage(msg.Topic(), msg.Payload())
}

func (c *Client) handleMessage(topic string, payload []byte) {
	reading, err := c.parser.ParseMessage(topic, payload)
	if err != nil {
		c.logger.Warn("failed to parse sensor data",
			zap.String("topic", topic), zap.ByteString("payload", payload), zap.Error(err))
		return
	}
	c.logger.Debug("parsed sensor reading", zap.String("reading", c.parser.FormatSensorReading(reading)))

	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	if _, err := c.processor.Process(ctx, reading); err != nil {
		c.logger.Warn("failed to process sensor reading",
			zap.Stringer("key", reading.Key()), zap.Error(err))
		if c.onError != nil && services.IsProcessingFailure(err) {
			c.onError(reading, err)
		}
	}
}

// SetErrorHandler registers fn to hear about readings the backend failed
// to process. Call it before Connect.
func (c *Client) SetErrorHandler(fn func(reading *models.SensorReading, err error)) {
	c.onError = fn
}

// defaultMessageHandler handles messages on unsubscribed topics
func (c *Client) defaultMessageHandler(_ mqtt.Client, msg mqtt.Message) {
	c.logger.Debug("message on unhandled topic", zap.String("topic", msg.Topic()))
}

// onConnect callback when connection is established
func (c *Client) onConnect(_ mqtt.Client) {
	c.connected.Store(true)
	c.logger.Info("MQTT client connected")
	if err := c.subscribe(); err != nil {
		c.logger.Error("MQTT subscription failed", zap.Error(err))
	}
}

// onConnectionLost callback when connection is lost
func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.logger.Warn("MQTT connection lost", zap.Error(err))
}

// AnomalyTopic is where a plot's anomaly events are published
func AnomalyTopic(plotID int64) string {
	return fmt.Sprintf("agri/plots/%d/anomalies", plotID)
}

// RecommendationTopic is where a plot's recommendations are published
func RecommendationTopic(plotID int64) string {
	return fmt.Sprintf("agri/plots/%d/recommendations", plotID)
}

func (c *Client) publishJSON(ctx context.Context, topic string, v interface{}) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}

	token := c.client.Publish(topic, qosAtLeastOnce, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// NotifyAnomaly publishes an anomaly to the plot's gateway topic
func (c *Client) NotifyAnomaly(ctx context.Context, ev *models.AnomalyEvent) error {
	return c.publishJSON(ctx, AnomalyTopic(ev.PlotID), ev)
}

// NotifyRecommendation publishes a recommendation to the plot's gateway topic
func (c *Client) NotifyRecommendation(ctx context.Context, ev *models.AnomalyEvent, rec *models.AgentRecommendation) error {
	return c.publishJSON(ctx, RecommendationTopic(ev.PlotID), rec)
}
