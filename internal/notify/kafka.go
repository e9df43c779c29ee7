package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ghouf2005/Agriculture-project/config"
	"github.com/ghouf2005/Agriculture-project/internal/models"
	"github.com/segmentio/kafka-go"
)

// Event kinds carried in the envelope
const (
	KindAnomaly        = "anomaly"
	KindRecommendation = "recommendation"
)

// ErrClosed is returned after Close
var ErrClosed = errors.New("kafka notifier closed")

// Envelope is the JSON value of every message on the topic
type Envelope struct {
	Kind           string                      `json:"kind"`
	PlotID         int64                       `json:"plot_id"`
	Anomaly        *models.AnomalyEvent        `json:"anomaly"`
	Recommendation *models.AgentRecommendation `json:"recommendation,omitempty"`
	SentAt         time.Time                   `json:"sent_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes anomalies and recommendations to a Kafka topic,
// keyed by plot so a consumer sees one plot's events in order
type KafkaNotifier struct {
	writer messageWriter
	mu     sync.RWMutex
	closed bool
}

// NewKafkaNotifier creates a notifier writing to cfg.Topic
func NewKafkaNotifier(cfg config.KafkaConfig) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           cfg.WriteTimeout,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &KafkaNotifier{writer: writer}
}

// NotifyAnomaly publishes a newly persisted anomaly
func (n *KafkaNotifier) NotifyAnomaly(ctx context.Context, ev *models.AnomalyEvent) error {
	return n.send(ctx, Envelope{Kind: KindAnomaly, PlotID: ev.PlotID, Anomaly: ev})
}

// NotifyRecommendation publishes a recommendation together with its anomaly
func (n *KafkaNotifier) NotifyRecommendation(ctx context.Context, ev *models.AnomalyEvent, rec *models.AgentRecommendation) error {
	return n.send(ctx, Envelope{Kind: KindRecommendation, PlotID: ev.PlotID, Anomaly: ev, Recommendation: rec})
}

func (n *KafkaNotifier) send(ctx context.Context, env Envelope) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrClosed
	}

	env.SentAt = time.Now().UTC()
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", env.Kind, err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(env.PlotID, 10)),
		Value: data,
		Time:  env.SentAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(env.Kind)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", env.Kind, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer
func (n *KafkaNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return n.writer.Close()
}
