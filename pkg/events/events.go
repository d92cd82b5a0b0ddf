package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Cause values carried by AggregateUpdated.
const (
	CauseCreated   = "created"
	CauseUpdated   = "updated"
	CauseDeleted   = "deleted"
	CauseRecompute = "recompute"
)

// AggregateUpdated announces a committed change to a course's rating aggregate.
type AggregateUpdated struct {
	CourseCode    string    `json:"course_code"`
	OverallRating float64   `json:"overall_rating"`
	Enjoyment     float64   `json:"enjoyment"`
	Usefulness    float64   `json:"usefulness"`
	Manageability float64   `json:"manageability"`
	ReviewCount   int       `json:"review_count"`
	Cause         string    `json:"cause"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher delivers JSON encoded events to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
	Close() error
}

type natsConn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSPublisher publishes events on a core NATS connection.
type NATSPublisher struct {
	conn   natsConn
	logger *zap.Logger
}

// NewNATSPublisher connects to url and returns a publisher.
func NewNATSPublisher(url, name string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logger.Info("nats publisher initialised", zap.String("url", url))
	return &NATSPublisher{conn: nc, logger: logger}, nil
}

// Publish marshals payload and flushes it to the server before returning.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject))
	return nil
}

// Close closes the underlying connection.
func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }
func (NopPublisher) Close() error                                      { return nil }
