package route

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/hud.ersn.net/client/internal/lib/geo"
)

func TestRoute_Totals(t *testing.T) {
	r := &Route{
		Legs: []Leg{
			{Steps: []Step{{Distance: 500, Duration: 40 * time.Second}, {Distance: 300, Duration: 20 * time.Second}}},
			{Steps: []Step{{Distance: 200, Duration: 10 * time.Second}}},
		},
	}

	assert.Equal(t, 1000.0, r.Distance())
	assert.Equal(t, 70*time.Second, r.Duration())
	assert.Equal(t, 800.0, r.Legs[0].Distance())
}

func TestRoute_ActiveLeg(t *testing.T) {
	var nilRoute *Route
	_, ok := nilRoute.ActiveLeg()
	assert.False(t, ok)

	_, ok = (&Route{}).ActiveLeg()
	assert.False(t, ok)

	leg, ok := (&Route{Legs: []Leg{{Steps: []Step{{Name: "Main St"}}}}}).ActiveLeg()
	require.True(t, ok)
	assert.Equal(t, "Main St", leg.Steps[0].Name)
}

func TestProviderFunc(t *testing.T) {
	var gotProfile Profile
	p := ProviderFunc(func(ctx context.Context, origin, destination geo.Point, profile Profile) (*Route, error) {
		gotProfile = profile
		return nil, ErrUnavailable
	})

	_, err := p.Route(context.Background(), geo.Point{}, geo.Point{}, ProfileCar)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, ProfileCar, gotProfile)
}
