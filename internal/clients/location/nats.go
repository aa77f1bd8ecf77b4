package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/nats-io/nats.go"

	"github.com/dpup/hud.ersn.net/client/internal/lib/geo"
	"github.com/dpup/hud.ersn.net/client/internal/lib/navigation"
)

// DefaultSubject is the subject position fixes are published on
const DefaultSubject = "hud.position"

// PositionMessage is the JSON wire format of a position fix
type PositionMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Lat       *float64  `json:"lat"`
	Lon       *float64  `json:"lon"`
	Bearing   *float64  `json:"bearing,omitempty"`
	SpeedMps  *float64  `json:"speedMps,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
}

// ErrMissingCoordinates is returned for position messages without lat or lon
var ErrMissingCoordinates = errors.New("position message has no coordinates")

// Sample converts the message to a navigation sample. Both coordinates must
// be present; a missing one is never read as zero.
func (m PositionMessage) Sample() (navigation.Sample, error) {
	if m.Lat == nil || m.Lon == nil {
		return navigation.Sample{}, ErrMissingCoordinates
	}
	return navigation.Sample{
		Point:     geo.Point{Latitude: *m.Lat, Longitude: *m.Lon},
		Speed:     m.SpeedMps,
		Bearing:   m.Bearing,
		Accuracy:  m.Accuracy,
		Timestamp: m.Timestamp,
	}, nil
}

// DecodePosition parses a JSON position message
func DecodePosition(data []byte) (navigation.Sample, error) {
	var msg PositionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return navigation.Sample{}, fmt.Errorf("failed to decode position message: %w", err)
	}
	sample, err := msg.Sample()
	if err != nil {
		return navigation.Sample{}, fmt.Errorf("failed to decode position message: %w", err)
	}
	return sample, nil
}

// NATSSource reads position fixes from a NATS subject
type NATSSource struct {
	nc      *nats.Conn
	subject string
	buffer  int
}

// NewNATSSource creates a source on an existing connection
func NewNATSSource(nc *nats.Conn, subject string) *NATSSource {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSource{nc: nc, subject: subject, buffer: 64}
}

// Connect opens a NATS connection with logging connection handlers.
// onStatus, when non-nil, is told whenever the connection goes up or down.
func Connect(ctx context.Context, url, name string, onStatus func(connected bool)) (*nats.Conn, error) {
	ctx = logging.EnsureLogger(ctx)
	status := func(connected bool) {
		if onStatus != nil {
			onStatus(connected)
		}
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			status(false)
			logging.Warnw(ctx, "NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			status(true)
			logging.Infow(ctx, "NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			status(false)
			logging.Infow(ctx, "NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	status(true)
	return nc, nil
}

// Samples subscribes to the subject. Undecodable messages are logged and dropped.
func (s *NATSSource) Samples(ctx context.Context) (<-chan navigation.Sample, error) {
	ctx = logging.EnsureLogger(ctx)
	msgs := make(chan *nats.Msg, s.buffer)
	sub, err := s.nc.ChanSubscribe(s.subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}

	out := make(chan navigation.Sample)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil {
				logging.Warnw(ctx, "NATS unsubscribe failed", "subject", s.subject, "error", err)
			}
		}()
		forward(ctx, msgs, out)
	}()
	return out, nil
}

func forward(ctx context.Context, msgs <-chan *nats.Msg, out chan<- navigation.Sample) {
	ctx = logging.EnsureLogger(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-msgs:
			sample, err := DecodePosition(msg.Data)
			if err != nil {
				logging.Warnw(ctx, "Dropping position message", "subject", msg.Subject, "error", err)
				continue
			}
			select {
			case out <- sample:
			case <-ctx.Done():
				return
			}
		}
	}
}
