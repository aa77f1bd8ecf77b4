package location

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/hud.ersn.net/client/internal/lib/geo"
	"github.com/dpup/hud.ersn.net/client/internal/lib/navigation"
)

func TestDecodePosition(t *testing.T) {
	data := []byte(`{"timestamp":"2025-06-01T12:00:00Z","lat":38.1391,"lon":-120.4561,"bearing":92.5,"speedMps":13.4,"accuracy":4}`)

	sample, err := DecodePosition(data)
	require.NoError(t, err)
	assert.Equal(t, geo.Point{Latitude: 38.1391, Longitude: -120.4561}, sample.Point)
	require.NotNil(t, sample.Speed)
	assert.Equal(t, 13.4, *sample.Speed)
	require.NotNil(t, sample.Bearing)
	assert.Equal(t, 92.5, *sample.Bearing)
	require.NotNil(t, sample.Accuracy)
	assert.Equal(t, 4.0, *sample.Accuracy)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), sample.Timestamp)
}

func TestDecodePosition_OptionalFields(t *testing.T) {
	sample, err := DecodePosition([]byte(`{"lat":38.1,"lon":-120.4}`))
	require.NoError(t, err)
	assert.Nil(t, sample.Speed, "absent speed must stay absent")
	assert.Nil(t, sample.Bearing)
	assert.NoError(t, sample.Validate())
}

func TestDecodePosition_Invalid(t *testing.T) {
	_, err := DecodePosition([]byte(`{"lat":`))
	assert.Error(t, err)
}

func TestDecodePosition_MissingCoordinates(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no coordinates", `{"speedMps":12.5}`},
		{"no lat", `{"lon":-120.4}`},
		{"no lon", `{"lat":38.1}`},
		{"null lat", `{"lat":null,"lon":-120.4}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePosition([]byte(tt.data))
			assert.ErrorIs(t, err, ErrMissingCoordinates)
		})
	}
}

func TestDecodePosition_ZeroIsACoordinate(t *testing.T) {
	sample, err := DecodePosition([]byte(`{"lat":0,"lon":0}`))
	require.NoError(t, err)
	assert.Equal(t, geo.Point{}, sample.Point)
}

func TestForward_DropsBadMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs := make(chan *nats.Msg, 3)
	out := make(chan navigation.Sample)
	msgs <- &nats.Msg{Subject: DefaultSubject, Data: []byte(`not json`)}
	msgs <- &nats.Msg{Subject: DefaultSubject, Data: []byte(`{"speedMps":12.5}`)}
	msgs <- &nats.Msg{Subject: DefaultSubject, Data: []byte(`{"lat":38.1,"lon":-120.4}`)}

	done := make(chan struct{})
	go func() {
		forward(ctx, msgs, out)
		close(done)
	}()

	select {
	case sample := <-out:
		assert.Equal(t, 38.1, sample.Point.Latitude)
	case <-time.After(time.Second):
		t.Fatal("no sample forwarded")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forward did not stop on cancel")
	}
}

func TestChannelSource(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := NewChannelSource(4)

	samples, err := src.Samples(ctx)
	require.NoError(t, err)

	want := navigation.Sample{Point: geo.Point{Latitude: 1, Longitude: 2}}
	require.NoError(t, src.Send(ctx, want))
	assert.Equal(t, want, <-samples)

	cancel()
	_, open := <-samples
	assert.False(t, open, "channel closes when ctx is done")
}

func TestLastKnown(t *testing.T) {
	l := NewLastKnown()
	ctx := context.Background()

	_, err := l.CurrentLocation(ctx)
	assert.ErrorIs(t, err, ErrNoFix)

	l.Observe(navigation.Sample{Point: geo.Point{Latitude: 95, Longitude: 0}})
	_, err = l.CurrentLocation(ctx)
	assert.ErrorIs(t, err, ErrNoFix, "invalid fixes are ignored")

	in := make(chan navigation.Sample, 1)
	in <- navigation.Sample{Point: geo.Point{Latitude: 38, Longitude: -120}}
	close(in)

	out := l.Tee(in)
	<-out
	p, err := l.CurrentLocation(ctx)
	require.NoError(t, err)
	assert.Equal(t, geo.Point{Latitude: 38, Longitude: -120}, p)

	_, open := <-out
	assert.False(t, open)
}

func TestLastKnown_Track(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLastKnown()
	src := NewChannelSource(1)
	samples, err := l.Track(src).Samples(ctx)
	require.NoError(t, err)

	fix := geo.Point{Latitude: 38.07, Longitude: -120.54}
	require.NoError(t, src.Send(ctx, navigation.Sample{Point: fix}))
	got := <-samples
	assert.Equal(t, fix, got.Point)

	p, err := l.CurrentLocation(ctx)
	require.NoError(t, err)
	assert.Equal(t, fix, p)
}
