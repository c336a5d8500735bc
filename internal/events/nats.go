package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// PublisherConfig holds the NATS publisher configuration.
type PublisherConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`
}

// DefaultPublisherConfig returns sensible defaults.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		URL:            "nats://localhost:4222",
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1, // infinite
	}
}

// Publisher mirrors emitted lifecycle events onto NATS so observers
// off the host can follow container transitions.
type Publisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// Connect creates a Publisher and connects to NATS.
func Connect(cfg PublisherConfig, logger *slog.Logger) (*Publisher, error) {
	log := logger.With("component", "nats-publisher")
	opts := []nats.Option{
		nats.Name("burrow"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Publisher{nc: nc, logger: log}, nil
}

// Attach registers the publisher on the emitter.
func (p *Publisher) Attach(emitter *Emitter) {
	emitter.OnEvent(p.publish)
}

func (p *Publisher) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to marshal event", "error", err)
		return
	}
	subject := Subject(ev)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}

// Close flushes and closes the connection.
func (p *Publisher) Close() {
	if err := p.nc.Flush(); err != nil {
		p.logger.Warn("nats flush failed", "error", err)
	}
	p.nc.Close()
}

// Subject returns the NATS subject an event is published on:
// burrow.<type>.<name> for container events (burrow.container.started.web),
// burrow.<type> for host-wide passes.
func Subject(ev Event) string {
	if ev.Container == "" {
		return "burrow." + ev.Type
	}
	return fmt.Sprintf("burrow.%s.%s", ev.Type, ev.Container)
}
