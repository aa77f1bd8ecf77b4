// Package location provides streams of position samples for the navigation engine.
package location

import (
	"context"
	"errors"
	"sync"

	"github.com/dpup/hud.ersn.net/client/internal/lib/geo"
	"github.com/dpup/hud.ersn.net/client/internal/lib/navigation"
)

// ErrNoFix is returned by a Locator that has not seen a valid position yet
var ErrNoFix = errors.New("no position fix available")

// Source delivers position samples until ctx is cancelled, then closes the channel
type Source interface {
	Samples(ctx context.Context) (<-chan navigation.Sample, error)
}

// ChannelSource is an in-process feed. Replay tools and tests push samples with Send.
type ChannelSource struct {
	ch chan navigation.Sample
}

// NewChannelSource creates a feed with the given buffer size
func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{ch: make(chan navigation.Sample, buffer)}
}

// Send queues a sample, blocking while the buffer is full
func (s *ChannelSource) Send(ctx context.Context, sample navigation.Sample) error {
	select {
	case s.ch <- sample:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Samples forwards queued samples until ctx is cancelled
func (s *ChannelSource) Samples(ctx context.Context) (<-chan navigation.Sample, error) {
	out := make(chan navigation.Sample)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case sample := <-s.ch:
				select {
				case out <- sample:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// LastKnown remembers the most recent valid position seen on a stream and
// serves it as a one-time location fetch.
type LastKnown struct {
	mu    sync.RWMutex
	point *geo.Point
}

// NewLastKnown creates an empty locator
func NewLastKnown() *LastKnown {
	return &LastKnown{}
}

// Observe records a sample's position if it is valid
func (l *LastKnown) Observe(sample navigation.Sample) {
	if !sample.Point.IsValid() {
		return
	}
	p := sample.Point
	l.mu.Lock()
	l.point = &p
	l.mu.Unlock()
}

// CurrentLocation returns the last observed position
func (l *LastKnown) CurrentLocation(ctx context.Context) (geo.Point, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.point == nil {
		return geo.Point{}, ErrNoFix
	}
	return *l.point, nil
}

// Tee returns a channel that mirrors in while recording every sample in l
func (l *LastKnown) Tee(in <-chan navigation.Sample) <-chan navigation.Sample {
	out := make(chan navigation.Sample)
	go func() {
		defer close(out)
		for sample := range in {
			l.Observe(sample)
			out <- sample
		}
	}()
	return out
}

// Track wraps src so every sample it produces is also recorded in l
func (l *LastKnown) Track(src Source) Source {
	return trackedSource{src: src, last: l}
}

type trackedSource struct {
	src  Source
	last *LastKnown
}

func (t trackedSource) Samples(ctx context.Context) (<-chan navigation.Sample, error) {
	in, err := t.src.Samples(ctx)
	if err != nil {
		return nil, err
	}
	return t.last.Tee(in), nil
}
