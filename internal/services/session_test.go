package services

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dpup/hud.ersn.net/client/internal/clients/location"
	"github.com/dpup/hud.ersn.net/client/internal/lib/geo"
	"github.com/dpup/hud.ersn.net/client/internal/lib/navigation"
	"github.com/dpup/hud.ersn.net/client/internal/lib/route"
)

// MockEngine is a mock implementation of NavigationEngine
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Start(ctx context.Context, destination geo.Point) error {
	args := m.Called(ctx, destination)
	return args.Error(0)
}

func (m *MockEngine) Stop(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEngine) Recalculate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEngine) OnPositionSample(ctx context.Context, sample navigation.Sample) error {
	args := m.Called(ctx, sample)
	return args.Error(0)
}

func (m *MockEngine) ActiveStep(ctx context.Context) (route.Step, bool) {
	args := m.Called(ctx)
	return args.Get(0).(route.Step), args.Bool(1)
}

func (m *MockEngine) Snapshot() navigation.Snapshot {
	args := m.Called()
	return args.Get(0).(navigation.Snapshot)
}

// eastward step geometry from (38, -120) roughly 900 m east
var eastStep = route.Step{
	Name:     "Main St",
	Distance: 900,
	Geometry: orb.LineString{{-120.0, 38.0}, {-119.99, 38.0}},
}

func offset(meters float64) geo.Point {
	return geo.Point{Latitude: 38.0 + meters/(geo.EarthRadius*math.Pi/180), Longitude: -119.995}
}

func sampleAt(p geo.Point) navigation.Sample {
	return navigation.Sample{Point: p}
}

func TestOffRouteBeyond(t *testing.T) {
	pred := OffRouteBeyond(50)

	assert.False(t, pred(offset(0), eastStep))
	assert.False(t, pred(offset(30), eastStep))
	assert.True(t, pred(offset(120), eastStep))
	assert.False(t, pred(offset(500), route.Step{}), "no geometry, no deviation")
}

func TestSessionController_DropsMalformedSamples(t *testing.T) {
	engine := new(MockEngine)
	bad := sampleAt(geo.Point{Latitude: math.NaN()})
	engine.On("OnPositionSample", mock.Anything, mock.Anything).Return(navigation.ErrInvalidSample)

	c := NewSessionController(engine, nil, OffRouteBeyond(50), time.Minute)
	c.handleSample(context.Background(), bad)

	engine.AssertExpectations(t)
	engine.AssertNotCalled(t, "ActiveStep", mock.Anything)
	engine.AssertNotCalled(t, "Recalculate", mock.Anything)
}

func TestSessionController_NilPredicateNeverRecalculates(t *testing.T) {
	engine := new(MockEngine)
	engine.On("OnPositionSample", mock.Anything, mock.Anything).Return(nil)

	c := NewSessionController(engine, nil, nil, 0)
	for i := 0; i < 3; i++ {
		c.handleSample(context.Background(), sampleAt(offset(5000)))
	}
	c.wg.Wait()

	engine.AssertNotCalled(t, "Recalculate", mock.Anything)
	engine.AssertNotCalled(t, "ActiveStep", mock.Anything)
}

func TestSessionController_OnRouteDoesNotRecalculate(t *testing.T) {
	engine := new(MockEngine)
	engine.On("OnPositionSample", mock.Anything, mock.Anything).Return(nil)
	engine.On("ActiveStep", mock.Anything).Return(eastStep, true)

	c := NewSessionController(engine, nil, OffRouteBeyond(50), time.Minute)
	c.handleSample(context.Background(), sampleAt(offset(10)))
	c.wg.Wait()

	engine.AssertNotCalled(t, "Recalculate", mock.Anything)
}

func TestSessionController_RecalculatesWithCooldown(t *testing.T) {
	engine := new(MockEngine)
	engine.On("OnPositionSample", mock.Anything, mock.Anything).Return(nil)
	engine.On("ActiveStep", mock.Anything).Return(eastStep, true)
	engine.On("Recalculate", mock.Anything).Return(nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewSessionController(engine, nil, OffRouteBeyond(50), 30*time.Second)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.handleSample(ctx, sampleAt(offset(200)))
	c.wg.Wait()
	engine.AssertNumberOfCalls(t, "Recalculate", 1)

	now = now.Add(10 * time.Second)
	c.handleSample(ctx, sampleAt(offset(200)))
	c.wg.Wait()
	engine.AssertNumberOfCalls(t, "Recalculate", 1)

	now = now.Add(30 * time.Second)
	c.handleSample(ctx, sampleAt(offset(200)))
	c.wg.Wait()
	engine.AssertNumberOfCalls(t, "Recalculate", 2)
}

func TestSessionController_OneRecalculationAtATime(t *testing.T) {
	engine := new(MockEngine)
	release := make(chan struct{})
	engine.On("OnPositionSample", mock.Anything, mock.Anything).Return(nil)
	engine.On("ActiveStep", mock.Anything).Return(eastStep, true)
	engine.On("Recalculate", mock.Anything).Run(func(mock.Arguments) { <-release }).Return(nil)

	c := NewSessionController(engine, nil, OffRouteBeyond(50), 0)
	ctx := context.Background()
	c.handleSample(ctx, sampleAt(offset(200)))
	require.Eventually(t, func() bool { return c.recalculating.Load() }, time.Second, 5*time.Millisecond)

	c.handleSample(ctx, sampleAt(offset(250)))
	close(release)
	c.wg.Wait()

	engine.AssertNumberOfCalls(t, "Recalculate", 1)
}

func TestSessionController_Run(t *testing.T) {
	engine := new(MockEngine)
	seen := make(chan struct{})
	engine.On("OnPositionSample", mock.Anything, mock.Anything).Run(func(mock.Arguments) { close(seen) }).Return(nil).Once()

	src := location.NewChannelSource(1)
	c := NewSessionController(engine, src, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.NoError(t, src.Send(ctx, sampleAt(offset(0))))
	select {
	case <-seen:
	case <-time.After(time.Second):
		t.Fatal("sample never reached the engine")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("controller did not stop")
	}
	engine.AssertExpectations(t)
}

func TestSessionController_Passthrough(t *testing.T) {
	engine := new(MockEngine)
	dest := geo.Point{Latitude: 38.1, Longitude: -120.4}
	engine.On("Start", mock.Anything, dest).Return(nil)
	engine.On("Stop", mock.Anything).Return(nil)
	engine.On("Recalculate", mock.Anything).Return(navigation.ErrNotActive)
	engine.On("Snapshot").Return(navigation.Snapshot{Status: navigation.StatusActive})

	c := NewSessionController(engine, nil, nil, 0)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx, dest))
	require.NoError(t, c.Stop(ctx))
	assert.ErrorIs(t, c.Recalculate(ctx), navigation.ErrNotActive)
	assert.Equal(t, navigation.StatusActive, c.Snapshot().Status)
	engine.AssertExpectations(t)
}
