// Package events publishes record changes made through MCP tools to NATS or
// Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"

	"github.com/xscopehub/modelmcp/internal/config"
	"github.com/xscopehub/modelmcp/internal/store"
	"github.com/xscopehub/modelmcp/internal/types"
)

// Actions carried by change events.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// Event describes one persisted change.
type Event struct {
	Model  string       `json:"model"`
	Action string       `json:"action"`
	ID     int64        `json:"id"`
	Record store.Record `json:"record,omitempty"`
	Time   time.Time    `json:"time"`
}

// Publisher delivers encoded events.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

// NewPublisher connects the configured driver. It returns nil when events are
// disabled.
func NewPublisher(cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "nats":
		nc, err := nats.Connect(cfg.NatsURL, nats.Name("modelmcp"))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		return &natsPublisher{nc: nc, subject: cfg.Subject}, nil
	case "kafka":
		w := &kafka.Writer{
			Addr:         kafka.TCP(cfg.KafkaBrokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		}
		return &kafkaPublisher{w: w}, nil
	default:
		return nil, fmt.Errorf("unknown events driver: %s", cfg.Driver)
	}
}

type natsPublisher struct {
	nc      *nats.Conn
	subject string
}

func (p *natsPublisher) Publish(_ context.Context, key string, payload []byte) error {
	return p.nc.Publish(p.subject+"."+key, payload)
}

func (p *natsPublisher) Close() error {
	return p.nc.Drain()
}

type kafkaPublisher struct {
	w *kafka.Writer
}

func (p *kafkaPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload})
}

func (p *kafkaPublisher) Close() error {
	return p.w.Close()
}

// Backend publishes an event after each successful write of the wrapped
// backend. Publish failures are logged and never fail the write.
type Backend struct {
	store.Backend
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time
}

// Wrap returns next unchanged when pub is nil.
func Wrap(next store.Backend, pub Publisher, logger *slog.Logger) store.Backend {
	if pub == nil {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{Backend: next, pub: pub, logger: logger, now: time.Now}
}

// Repository returns the publishing repository for desc.
func (b *Backend) Repository(desc types.ModelDescriptor) (store.Repository, error) {
	repo, err := b.Backend.Repository(desc)
	if err != nil {
		return nil, err
	}
	return &repository{Repository: repo, backend: b, model: desc.Singular()}, nil
}

// Close closes the publisher and the wrapped backend.
func (b *Backend) Close() error {
	if err := b.pub.Close(); err != nil {
		b.logger.Warn("close event publisher", "error", err)
	}
	return b.Backend.Close()
}

func (b *Backend) emit(ctx context.Context, ev Event) {
	ev.Time = b.now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("encode change event", "model", ev.Model, "error", err)
		return
	}
	key := ev.Model + "." + ev.Action
	if err := b.pub.Publish(ctx, key, payload); err != nil {
		b.logger.Warn("publish change event", "key", key, "id", ev.ID, "error", err)
	}
}

type repository struct {
	store.Repository
	backend *Backend
	model   string
}

func (r *repository) Create(ctx context.Context, attrs map[string]any) (store.Record, error) {
	rec, err := r.Repository.Create(ctx, attrs)
	if err == nil {
		r.backend.emit(ctx, Event{Model: r.model, Action: ActionCreated, ID: rec.ID(), Record: rec})
	}
	return rec, err
}

func (r *repository) Update(ctx context.Context, id int64, attrs map[string]any) (store.Record, error) {
	rec, err := r.Repository.Update(ctx, id, attrs)
	if err == nil {
		r.backend.emit(ctx, Event{Model: r.model, Action: ActionUpdated, ID: id, Record: rec})
	}
	return rec, err
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	err := r.Repository.Delete(ctx, id)
	if err == nil {
		r.backend.emit(ctx, Event{Model: r.model, Action: ActionDeleted, ID: id})
	}
	return err
}
