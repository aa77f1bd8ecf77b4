package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/dpup/prefab/logging"
	"github.com/gorilla/mux"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dpup/hud.ersn.net/client/internal/lib/geo"
	"github.com/dpup/hud.ersn.net/client/internal/lib/maneuver"
	"github.com/dpup/hud.ersn.net/client/internal/lib/navigation"
	"github.com/dpup/hud.ersn.net/client/internal/lib/route"
)

// Navigator is what the display API needs from the session layer
type Navigator interface {
	Start(ctx context.Context, destination geo.Point) error
	Stop(ctx context.Context) error
	Recalculate(ctx context.Context) error
	Snapshot() navigation.Snapshot
}

// DisplayService serves the HUD snapshot and lifecycle commands over HTTP
type DisplayService struct {
	nav     Navigator
	metrics http.Handler
}

// NewDisplayService creates the display API. metrics may be nil.
func NewDisplayService(nav Navigator, metrics http.Handler) *DisplayService {
	return &DisplayService{nav: nav, metrics: metrics}
}

// DisplayText holds preformatted strings for the screen layer
type DisplayText struct {
	Arrow             string   `json:"arrow"`
	Distance          string   `json:"distance"`
	RemainingDistance string   `json:"remaining_distance"`
	RemainingTime     string   `json:"remaining_time"`
	LaneArrows        []string `json:"lane_arrows,omitempty"`
}

// SnapshotResponse is the body of GET /api/v1/snapshot
type SnapshotResponse struct {
	navigation.Snapshot
	Display *DisplayText `json:"display,omitempty"`
}

// StatusResponse is the body of GET /api/v1/status
type StatusResponse struct {
	Status   navigation.Status `json:"status"`
	Active   bool              `json:"active"`
	Error    string            `json:"error,omitempty"`
	Advisory string            `json:"advisory,omitempty"`
	Sequence uint64            `json:"sequence"`
}

// StartRequest is the body of POST /api/v1/navigation/start
type StartRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Router returns the display API routes
func (s *DisplayService) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/navigation/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/navigation/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/navigation/recalculate", s.handleRecalculate).Methods(http.MethodPost)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return r
}

// Paths lists the path templates served by Router, for hosts that register
// handlers per path.
func (s *DisplayService) Paths() ([]string, error) {
	var paths []string
	seen := map[string]bool{}
	err := s.Router().Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		if route.GetHandler() == nil {
			return nil
		}
		tpl, err := route.GetPathTemplate()
		if err != nil {
			return err
		}
		if !seen[tpl] {
			seen[tpl] = true
			paths = append(paths, tpl)
		}
		return nil
	})
	return paths, err
}

func (s *DisplayService) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.nav.Snapshot()
	resp := SnapshotResponse{Snapshot: snap}
	if snap.Active {
		resp.Display = formatSnapshot(snap)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *DisplayService) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.nav.Snapshot()
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:   snap.Status,
		Active:   snap.Active,
		Error:    snap.Error,
		Advisory: snap.Advisory,
		Sequence: snap.Sequence,
	})
}

func (s *DisplayService) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, status.Error(codes.InvalidArgument, "invalid json"))
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, status.Error(codes.InvalidArgument, "latitude and longitude are required"))
		return
	}
	dest, err := geo.NewPoint(*req.Latitude, *req.Longitude)
	if err != nil {
		writeError(w, status.Error(codes.InvalidArgument, err.Error()))
		return
	}

	if err := s.nav.Start(r.Context(), dest); err != nil {
		logging.Warnw(logging.EnsureLogger(r.Context()), "Navigation start failed", "destination", dest.String(), "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotResponse{Snapshot: s.nav.Snapshot()})
}

func (s *DisplayService) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.nav.Stop(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotResponse{Snapshot: s.nav.Snapshot()})
}

func (s *DisplayService) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	if err := s.nav.Recalculate(r.Context()); err != nil {
		logging.Warnw(logging.EnsureLogger(r.Context()), "Manual recalculation failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotResponse{Snapshot: s.nav.Snapshot()})
}

func formatSnapshot(snap navigation.Snapshot) *DisplayText {
	text := &DisplayText{
		Arrow:             snap.Direction.Arrow(),
		Distance:          maneuver.FormatDistance(snap.DistanceToManeuver),
		RemainingDistance: maneuver.FormatDistance(snap.RemainingDistance),
		RemainingTime:     maneuver.FormatDuration(snap.RemainingDuration),
	}
	for _, lane := range snap.Lanes {
		indication := "none"
		if len(lane.Indications) > 0 {
			indication = lane.Indications[0]
		}
		text.LaneArrows = append(text.LaneArrows, maneuver.LaneArrow(indication))
	}
	return text
}

// toStatus maps navigation and provider errors onto gRPC status codes
func toStatus(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}

	var code codes.Code
	switch {
	case errors.Is(err, navigation.ErrNoLocation), errors.Is(err, navigation.ErrNotActive):
		code = codes.FailedPrecondition
	case errors.Is(err, navigation.ErrSuperseded), errors.Is(err, navigation.ErrStopped):
		code = codes.Aborted
	case errors.Is(err, route.ErrTransport):
		code = codes.Unavailable
	case errors.Is(err, route.ErrUnavailable), errors.Is(err, navigation.ErrEmptyRoute):
		code = codes.NotFound
	case errors.Is(err, navigation.ErrInvalidSample):
		code = codes.InvalidArgument
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.New(code, err.Error())
}

func writeError(w http.ResponseWriter, err error) {
	st := toStatus(err)
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorResponse{
		Error: st.Message(),
		Code:  st.Code().String(),
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}
