// Package relay bridges the hubs of several gateways through Kafka.
//
// Each gateway runs one Relay. It listens on the local hub like any session
// and writes the envelopes its own node produced to a shared topic. It also
// reads the topic with a consumer group of its own, so every gateway sees
// every envelope, and republishes the envelopes produced by other nodes
// into the local hub. Republished envelopes keep their snowflake ID, which
// is how a relay recognizes them and avoids sending them back.
//
// Delivery is best effort, like the hub itself: failed writes are logged
// and dropped.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/sentialytic/reapears/pkg/config"
	"github.com/sentialytic/reapears/pkg/hub"
	"github.com/sentialytic/reapears/pkg/metrics"
	"github.com/sentialytic/reapears/pkg/protocol"
	"github.com/sentialytic/reapears/pkg/snowflake"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Metrics are the relay's optional instruments.
type Metrics struct {
	Sent     *metrics.Counter
	Received *metrics.Counter
	Failed   *metrics.Counter
}

func NewMetrics(r *metrics.Registry) Metrics {
	return Metrics{
		Sent:     r.Counter("chat_relay_envelopes_sent_total", "Local envelopes written to Kafka."),
		Received: r.Counter("chat_relay_envelopes_received_total", "Remote envelopes republished on the local hub."),
		Failed:   r.Counter("chat_relay_failures_total", "Envelopes the relay could not encode, write or decode."),
	}
}

type Relay struct {
	hub     *hub.Hub
	node    int64
	w       messageWriter
	r       messageReader
	metrics Metrics
}

// New connects a relay for h to the brokers and topic in cfg.
func New(h *hub.Hub, cfg config.KafkaConfig, m Metrics) *Relay {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     "chat-gateway-" + strconv.FormatInt(h.NodeID(), 10),
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	return newRelay(h, w, r, m)
}

func newRelay(h *hub.Hub, w messageWriter, r messageReader, m Metrics) *Relay {
	return &Relay{hub: h, node: h.NodeID(), w: w, r: r, metrics: m}
}

// Run relays in both directions until ctx is cancelled, the hub closes or
// the Kafka reader fails. It closes the Kafka writer and reader on return.
func (rl *Relay) Run(ctx context.Context) error {
	listener := rl.hub.Subscribe()
	defer listener.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	consumed := make(chan error, 1)
	go func() {
		defer cancel()
		consumed <- rl.consume(ctx)
	}()

	rl.produce(ctx, listener)
	cancel()
	err := <-consumed

	if cerr := rl.r.Close(); cerr != nil {
		slog.Warn("relay: close reader", "err", cerr)
	}
	if cerr := rl.w.Close(); cerr != nil {
		slog.Warn("relay: close writer", "err", cerr)
	}
	return err
}

// produce writes envelopes produced by the local node to Kafka.
func (rl *Relay) produce(ctx context.Context, l *hub.Listener) {
	for {
		env, err := l.Next(ctx)
		var lagged *hub.LaggedError
		switch {
		case err == nil:
		case errors.As(err, &lagged):
			slog.Warn("relay: fell behind the hub", "skipped", lagged.Skipped)
			rl.metrics.Failed.Add(int64(lagged.Skipped))
			continue
		default:
			return
		}

		if snowflake.NodeOf(env.ID) != rl.node {
			continue
		}

		msg, err := encodeMessage(env)
		if err != nil {
			slog.Error("relay: encode envelope", "id", env.ID, "err", err)
			rl.metrics.Failed.Inc()
			continue
		}
		if err := rl.w.WriteMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("relay: write to kafka", "id", env.ID, "err", err)
			rl.metrics.Failed.Inc()
			continue
		}
		rl.metrics.Sent.Inc()
	}
}

// consume republishes envelopes produced by other nodes.
func (rl *Relay) consume(ctx context.Context) error {
	for {
		msg, err := rl.r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay: read from kafka: %w", err)
		}

		env, err := decodeMessage(msg)
		if err != nil {
			slog.Warn("relay: decode envelope", "offset", msg.Offset, "err", err)
			rl.metrics.Failed.Inc()
			continue
		}
		if snowflake.NodeOf(env.ID) == rl.node {
			continue
		}
		rl.hub.Publish(env)
		rl.metrics.Received.Inc()
	}
}

// wireEnvelope is the Kafka message value. Message holds the frame exactly
// as sessions write it to the socket.
type wireEnvelope struct {
	ID      int64           `json:"id"`
	All     bool            `json:"all"`
	To      uuid.UUID       `json:"to"`
	Message json.RawMessage `json:"message"`
}

func encodeMessage(env hub.Envelope) (kafka.Message, error) {
	frame, err := protocol.Encode(env.Message)
	if err != nil {
		return kafka.Message{}, err
	}
	value, err := json.Marshal(wireEnvelope{
		ID:      env.ID,
		All:     env.To.IsAll(),
		To:      env.To.User(),
		Message: frame,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal envelope: %w", err)
	}
	// Keying by addressee keeps one user's envelopes on one partition, in order.
	return kafka.Message{
		Key:   []byte(env.To.String()),
		Value: value,
		Time:  snowflake.Time(env.ID),
	}, nil
}

func decodeMessage(msg kafka.Message) (hub.Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(msg.Value, &w); err != nil {
		return hub.Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if w.ID == 0 {
		return hub.Envelope{}, errors.New("envelope without id")
	}
	fwd, err := protocol.DecodeForward(w.Message)
	if err != nil {
		return hub.Envelope{}, err
	}

	to := hub.ToUser(w.To)
	if w.All {
		to = hub.ToAll()
	}
	return hub.Envelope{ID: w.ID, To: to, Message: fwd}, nil
}
