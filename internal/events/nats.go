package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/tuition/internal/telemetry"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	URL string

	// SubjectPrefix is prepended to every subject, e.g. "tuition" gives
	// "tuition.invoice.finalized".
	SubjectPrefix string

	// Name identifies this connection in server monitoring.
	Name string
}

// NATSPublisher publishes JSON-encoded events to core NATS.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to the server. Reconnects are unlimited; a broken
// connection surfaces as Publish errors, which callers log.
func NewNATSPublisher(cfg NATSConfig, logger zerolog.Logger) (*NATSPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats: url is required")
	}
	if cfg.Name == "" {
		cfg.Name = "tuition"
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &NATSPublisher{conn: conn, prefix: strings.TrimSuffix(cfg.SubjectPrefix, ".")}, nil
}

// Publish encodes event as JSON. msgID is sent as Nats-Msg-Id so a JetStream
// stream bound to the subject can deduplicate.
func (p *NATSPublisher) Publish(ctx context.Context, subject, msgID string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", subject, err)
	}

	msg := nats.NewMsg(FullSubject(p.prefix, subject))
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	if msgID != "" {
		msg.Header.Set(nats.MsgIdHdr, msgID)
	}

	if err := p.conn.PublishMsg(msg); err != nil {
		countPublished(subject, "failed")
		return fmt.Errorf("failed to publish %s: %w", msg.Subject, err)
	}
	countPublished(subject, "published")
	return nil
}

func countPublished(subject, outcome string) {
	if telemetry.Business != nil {
		telemetry.Business.EventsPublished.WithLabelValues(subject, outcome).Inc()
	}
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// FullSubject joins prefix and subject with a dot, skipping an empty prefix.
func FullSubject(prefix, subject string) string {
	if prefix == "" {
		return subject
	}
	return prefix + "." + subject
}
