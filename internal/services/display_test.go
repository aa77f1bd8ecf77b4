package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dpup/hud.ersn.net/client/internal/lib/geo"
	"github.com/dpup/hud.ersn.net/client/internal/lib/maneuver"
	"github.com/dpup/hud.ersn.net/client/internal/lib/navigation"
	"github.com/dpup/hud.ersn.net/client/internal/lib/route"
)

func activeSnapshot() navigation.Snapshot {
	return navigation.Snapshot{
		Sequence:           7,
		Status:             navigation.StatusActive,
		Active:             true,
		Speed:              54,
		Direction:          maneuver.SlightRight,
		Instruction:        "Fork slight right",
		DistanceToManeuver: 240,
		StreetName:         "Main St",
		RemainingDistance:  12400,
		RemainingDuration:  14 * time.Minute,
		Lanes: []route.Lane{
			{Indications: []string{"straight"}, Valid: route.BoolPtr(false)},
			{Indications: []string{"slight right"}, Valid: route.BoolPtr(true)},
		},
		StepIndex: 2,
		StepCount: 9,
	}
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDisplay_Snapshot(t *testing.T) {
	nav := new(MockEngine)
	nav.On("Snapshot").Return(activeSnapshot())
	router := NewDisplayService(nav, nil).Router()

	rec := doRequest(t, router, http.MethodGet, "/api/v1/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp SnapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Main St", resp.StreetName)
	assert.Equal(t, 54.0, resp.Speed)
	require.NotNil(t, resp.Display)
	assert.Equal(t, "↗", resp.Display.Arrow)
	assert.Equal(t, "240 m", resp.Display.Distance)
	assert.Equal(t, "12.4 km", resp.Display.RemainingDistance)
	assert.Equal(t, "14 min", resp.Display.RemainingTime)
	assert.Equal(t, []string{"↑", "↗"}, resp.Display.LaneArrows)
}

func TestDisplay_SnapshotIdle(t *testing.T) {
	nav := new(MockEngine)
	nav.On("Snapshot").Return(navigation.Snapshot{Status: navigation.StatusIdle})
	router := NewDisplayService(nav, nil).Router()

	rec := doRequest(t, router, http.MethodGet, "/api/v1/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SnapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Display)
	assert.Equal(t, navigation.StatusIdle, resp.Status)
}

func TestDisplay_Status(t *testing.T) {
	nav := new(MockEngine)
	snap := activeSnapshot()
	snap.Advisory = "Route recalculation failed"
	nav.On("Snapshot").Return(snap)
	router := NewDisplayService(nav, nil).Router()

	rec := doRequest(t, router, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, navigation.StatusActive, resp.Status)
	assert.True(t, resp.Active)
	assert.Equal(t, "Route recalculation failed", resp.Advisory)
	assert.Equal(t, uint64(7), resp.Sequence)
}

func TestDisplay_Start(t *testing.T) {
	nav := new(MockEngine)
	dest := geo.Point{Latitude: 38.1391, Longitude: -120.4561}
	nav.On("Start", mock.Anything, dest).Return(nil)
	nav.On("Snapshot").Return(activeSnapshot())
	router := NewDisplayService(nav, nil).Router()

	rec := doRequest(t, router, http.MethodPost, "/api/v1/navigation/start", `{"latitude":38.1391,"longitude":-120.4561}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	nav.AssertExpectations(t)
}

func TestDisplay_StartValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing longitude", `{"latitude":38.1}`},
		{"out of range", `{"latitude":95,"longitude":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nav := new(MockEngine)
			router := NewDisplayService(nav, nil).Router()

			rec := doRequest(t, router, http.MethodPost, "/api/v1/navigation/start", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			nav.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
		})
	}
}

func TestDisplay_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantHTTP int
		wantCode string
	}{
		{"no location", navigation.ErrNoLocation, http.StatusBadRequest, "FailedPrecondition"},
		{"unavailable", route.ErrUnavailable, http.StatusNotFound, "NotFound"},
		{"empty route", navigation.ErrEmptyRoute, http.StatusNotFound, "NotFound"},
		{"transport", fmt.Errorf("osrm: %w", route.ErrTransport), http.StatusServiceUnavailable, "Unavailable"},
		{"superseded", navigation.ErrSuperseded, http.StatusConflict, "Aborted"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "Internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nav := new(MockEngine)
			nav.On("Start", mock.Anything, mock.Anything).Return(tt.err)
			router := NewDisplayService(nav, nil).Router()

			rec := doRequest(t, router, http.MethodPost, "/api/v1/navigation/start", `{"latitude":38,"longitude":-120}`)
			assert.Equal(t, tt.wantHTTP, rec.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.err.Error(), resp.Error)
		})
	}
}

func TestDisplay_Recalculate(t *testing.T) {
	nav := new(MockEngine)
	failure := fmt.Errorf("%w: %w", navigation.ErrRecalculationFailed, route.ErrTransport)
	nav.On("Recalculate", mock.Anything).Return(failure).Once()
	nav.On("Recalculate", mock.Anything).Return(navigation.ErrNotActive).Once()
	nav.On("Recalculate", mock.Anything).Return(nil).Once()
	nav.On("Snapshot").Return(activeSnapshot())
	router := NewDisplayService(nav, nil).Router()

	rec := doRequest(t, router, http.MethodPost, "/api/v1/navigation/recalculate", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/navigation/recalculate", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/navigation/recalculate", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDisplay_Stop(t *testing.T) {
	nav := new(MockEngine)
	nav.On("Stop", mock.Anything).Return(nil)
	nav.On("Snapshot").Return(navigation.Snapshot{Status: navigation.StatusIdle})
	router := NewDisplayService(nav, nil).Router()

	rec := doRequest(t, router, http.MethodPost, "/api/v1/navigation/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	nav.AssertExpectations(t)
}

func TestDisplay_MethodAndMetrics(t *testing.T) {
	nav := new(MockEngine)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hud_samples_total 3\n"))
	})
	router := NewDisplayService(nav, metrics).Router()

	rec := doRequest(t, router, http.MethodGet, "/api/v1/navigation/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hud_samples_total")

	rec = doRequest(t, NewDisplayService(nav, nil).Router(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDisplay_Paths(t *testing.T) {
	nav := new(MockEngine)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	paths, err := NewDisplayService(nav, metrics).Paths()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"/api/v1/snapshot",
		"/api/v1/status",
		"/api/v1/navigation/start",
		"/api/v1/navigation/stop",
		"/api/v1/navigation/recalculate",
		"/metrics",
	}, paths)

	paths, err = NewDisplayService(nav, nil).Paths()
	require.NoError(t, err)
	assert.NotContains(t, paths, "/metrics")
}
