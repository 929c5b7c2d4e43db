// Package messaging wraps the NATS connection used to broadcast run events.
package messaging

import (
	"fmt"
	"time"

	"match-workers/internal/common/logger"

	"github.com/nats-io/nats.go"
)

const SubjectRunCompleted = "matching.run.completed"

type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int // -1 for infinite
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "match-workers",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSClient is a thin publisher over a NATS connection.
type NATSClient struct {
	conn   *nats.Conn
	logger logger.Logger
}

// NewNATSClient connects and returns an error if the initial connection fails.
func NewNATSClient(cfg NATSConfig, log logger.Logger) (*NATSClient, error) {
	log = log.WithFields(map[string]interface{}{"component": "nats"})
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			fields := map[string]interface{}{}
			if err != nil {
				fields["error"] = err.Error()
			}
			log.Warn("nats disconnected", fields)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", map[string]interface{}{"url": nc.ConnectedUrl()})
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("nats connection closed", nil)
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Info("nats connected", map[string]interface{}{"url": nc.ConnectedUrl()})

	return &NATSClient{conn: nc, logger: log}, nil
}

func (c *NATSClient) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Flush waits until the server has acknowledged everything published so far.
func (c *NATSClient) Flush(timeout time.Duration) error {
	return c.conn.FlushTimeout(timeout)
}

func (c *NATSClient) Close() {
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed", map[string]interface{}{"error": err.Error()})
	}
}
