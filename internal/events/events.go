// Package events publishes schedule lifecycle events to NATS for the
// order-execution workflow and other downstream consumers. The
// publisher is optional: when NATS is not configured the trigger
// falls back to log-only eventing.
//
// Authentication uses NKey seeds (public-key cryptography); messages
// are JSON envelopes on environment-scoped subjects, e.g.
// "rebalancer.prod.schedules.fired".
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
)

// Config holds NATS connection settings.
type Config struct {
	Servers     string // comma-separated NATS server URLs
	NKeySeed    string // NKey seed for authentication (starts with SU)
	Environment string // deployment name used in subjects
}

// Publisher publishes schedule events to NATS.
type Publisher struct {
	nc     *nats.Conn
	env    string
	logger *slog.Logger
}

// envelope is the wire format shared by all event types.
type envelope struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// FiredPayload describes a schedule firing.
type FiredPayload struct {
	ScheduleID  string    `json:"schedule_id"`
	PortfolioID string    `json:"portfolio_id"`
	FiredAt     time.Time `json:"fired_at"`
	NextRunAt   time.Time `json:"next_run_at"`
	// Approximate is true when the firing decision was made against
	// the local clock because the trusted time source was down.
	Approximate bool `json:"approximate"`
}

// ErrorPayload describes a schedule whose evaluation failed.
type ErrorPayload struct {
	ScheduleID  string `json:"schedule_id"`
	PortfolioID string `json:"portfolio_id"`
	Reason      string `json:"reason"`
}

// Connect establishes the NATS connection with NKey authentication
// and reconnect-forever semantics.
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	kp, err := nkeys.FromSeed([]byte(cfg.NKeySeed))
	if err != nil {
		return nil, fmt.Errorf("parse nkey seed: %w", err)
	}
	pubKey, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("derive nkey public key: %w", err)
	}

	log := logger.With(slog.String("component", "events"))

	opts := []nats.Option{
		nats.Name("rebalancerd"),
		nats.Nkey(pubKey, func(nonce []byte) ([]byte, error) {
			return kp.Sign(nonce)
		}),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(cfg.Servers, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("nats connected", slog.String("url", nc.ConnectedUrl()))
	return &Publisher{nc: nc, env: cfg.Environment, logger: log}, nil
}

// PublishFired publishes a schedule_fired event.
func (p *Publisher) PublishFired(ev FiredPayload) error {
	return p.publish("schedule_fired", p.subject("fired"), ev)
}

// PublishError publishes a schedule_error event so misconfigured
// schedules surface to operators rather than failing silently.
func (p *Publisher) PublishError(ev ErrorPayload) error {
	return p.publish("schedule_error", p.subject("error"), ev)
}

func (p *Publisher) subject(kind string) string {
	return fmt.Sprintf("rebalancer.%s.schedules.%s", p.env, kind)
}

func (p *Publisher) publish(eventType, subject string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	msg := envelope{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   raw,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("event published",
		slog.String("subject", subject),
		slog.String("type", eventType),
	)
	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.logger.Warn("nats drain failed", slog.String("error", err.Error()))
	}
}
