package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/hud.ersn.net/client/internal/lib/navigation"
)

// DefaultSubject is where display snapshots are published
const DefaultSubject = "hud.snapshot"

// Conn publishes raw messages. *nats.Conn satisfies it.
type Conn interface {
	Publish(subject string, data []byte) error
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
}

// NATSPublisher forwards display snapshots to a NATS subject as JSON
type NATSPublisher struct {
	nc      Conn
	subject string
	metrics PublisherMetrics
}

func NewNATSPublisher(nc Conn, subject string, m PublisherMetrics) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{nc: nc, subject: subject, metrics: m}
}

// PublishSnapshot marshals and publishes one snapshot
func (p *NATSPublisher) PublishSnapshot(snap navigation.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	start := time.Now()
	err = p.nc.Publish(p.subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.subject, err)
	}
	return nil
}

// Run publishes every snapshot received from updates until ctx is done or
// updates is closed. Publish failures are logged and do not stop the loop.
func (p *NATSPublisher) Run(ctx context.Context, updates <-chan navigation.Snapshot) error {
	ctx = logging.EnsureLogger(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if err := p.PublishSnapshot(snap); err != nil {
				logging.Warnw(ctx, "Snapshot publish failed", "sequence", snap.Sequence, "error", err)
			}
		}
	}
}
