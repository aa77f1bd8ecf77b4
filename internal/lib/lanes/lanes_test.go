package lanes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/hud.ersn.net/client/internal/lib/route"
)

func stepWithLanes(lanes ...route.Lane) route.Step {
	return route.Step{
		Distance: 400,
		Maneuver: route.Maneuver{Type: "turn", Modifier: "right"},
		Intersections: []route.Intersection{
			{Lanes: lanes},
			{Lanes: []route.Lane{{Indications: []string{"left"}, Valid: route.BoolPtr(true)}}},
		},
	}
}

func threeLanes() route.Step {
	return stepWithLanes(
		route.Lane{Indications: []string{"left"}, Valid: route.BoolPtr(false)},
		route.Lane{Indications: []string{"straight"}, Valid: route.BoolPtr(false)},
		route.Lane{Indications: []string{"straight", "right"}, Valid: route.BoolPtr(true)},
	)
}

func TestFilter_Window(t *testing.T) {
	step := threeLanes()

	assert.Nil(t, Filter(step, 301), "beyond max must hide guidance")
	assert.Nil(t, Filter(step, 79), "inside min must hide guidance")
	assert.Nil(t, Filter(step, 5))
	assert.Nil(t, Filter(step, 5000))
	assert.NotNil(t, Filter(step, 80), "window is inclusive")
	assert.NotNil(t, Filter(step, 300), "window is inclusive")
}

func TestFilter_ReturnsLanesUnmodified(t *testing.T) {
	step := threeLanes()

	lanes := Filter(step, 150)
	require.Len(t, lanes, 3)
	assert.Equal(t, step.Intersections[0].Lanes, lanes)
	assert.Equal(t, []string{"left"}, lanes[0].Indications, "left-to-right order must be preserved")
	assert.Equal(t, []string{"straight", "right"}, lanes[2].Indications)
	assert.True(t, *lanes[2].Valid)
}

func TestFilter_ReturnsCopy(t *testing.T) {
	step := threeLanes()
	lanes := Filter(step, 150)
	require.NotNil(t, lanes)

	lanes[0].Indications[0] = "uturn"
	*lanes[0].Valid = true

	assert.Equal(t, "left", step.Intersections[0].Lanes[0].Indications[0])
	assert.False(t, *step.Intersections[0].Lanes[0].Valid)
}

func TestFilter_IncompleteData(t *testing.T) {
	tests := []struct {
		name string
		step route.Step
	}{
		{"no intersections", route.Step{}},
		{"no lanes", stepWithLanes()},
		{"single lane", stepWithLanes(route.Lane{Indications: []string{"straight"}, Valid: route.BoolPtr(true)})},
		{"missing validity", stepWithLanes(
			route.Lane{Indications: []string{"left"}, Valid: route.BoolPtr(true)},
			route.Lane{Indications: []string{"straight"}},
		)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, Filter(tt.step, 150))
		})
	}
}

func TestWindow_Custom(t *testing.T) {
	w := Window{Min: 50, Max: 500}
	assert.NotNil(t, w.Filter(threeLanes(), 450))
	assert.Nil(t, DefaultWindow().Filter(threeLanes(), 450))
}

func TestOpacity(t *testing.T) {
	w := DefaultWindow()
	assert.Equal(t, 1.0, w.Opacity(10))
	assert.Equal(t, 1.0, w.Opacity(80))
	assert.InDelta(t, 0.5, w.Opacity(190), 1e-9)
	assert.Equal(t, 0.0, w.Opacity(300))
	assert.Equal(t, 0.0, w.Opacity(1000))
	assert.Equal(t, 1.0, Window{Min: 100, Max: 100}.Opacity(150))
}
