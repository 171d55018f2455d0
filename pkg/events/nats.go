// Package events publishes fund events to external consumers over NATS.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	"github.com/luxfi/fund/pkg/fund"
)

// DefaultSubjectPrefix is prepended to the event type to form the NATS
// subject, e.g. fund.events.RequestCreated.
const DefaultSubjectPrefix = "fund.events"

// NATSPublisher implements fund.Publisher over a NATS connection.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger log.Logger
}

// NewNATSPublisher connects to a NATS server. An empty prefix uses
// DefaultSubjectPrefix.
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	logger := log.Root().New("module", "events")
	logger.Info("connected to NATS", "url", url, "prefix", prefix)
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}, nil
}

// Publish implements fund.Publisher. Publish failures are logged, never
// propagated: event delivery is observability, not accounting.
func (p *NATSPublisher) Publish(e fund.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("failed to marshal event", "type", e.Type, "error", err)
		return
	}
	subject := p.prefix + "." + string(e.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Error("failed to publish event", "subject", subject, "error", err)
	}
}

// Close flushes and closes the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Flush()
		p.nc.Close()
	}
}
