package triplog

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dpup/prefab/logging"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dpup/hud.ersn.net/client/internal/lib/navigation"
)

const schema = `CREATE TABLE IF NOT EXISTS trip_events (
	id               BIGSERIAL PRIMARY KEY,
	kind             TEXT NOT NULL,
	occurred_at      TIMESTAMPTZ NOT NULL,
	step_index       INTEGER NOT NULL,
	lat              DOUBLE PRECISION,
	lon              DOUBLE PRECISION,
	dest_lat         DOUBLE PRECISION,
	dest_lon         DOUBLE PRECISION,
	route_distance_m DOUBLE PRECISION,
	route_duration_s DOUBLE PRECISION,
	error            TEXT
)`

const insertEvent = `INSERT INTO trip_events
	(kind, occurred_at, step_index, lat, lon, dest_lat, dest_lon, route_distance_m, route_duration_s, error)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Execer runs statements. *sql.DB satisfies it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Recorder stores lifecycle events in Postgres. Observe only queues the
// event; Run performs the inserts so the engine loop never waits on the
// database. Events are dropped when the queue is full.
type Recorder struct {
	db      Execer
	queue   chan navigation.Event
	dropped atomic.Int64
}

func NewRecorder(db Execer, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Recorder{db: db, queue: make(chan navigation.Event, queueSize)}
}

// EnsureSchema creates the trip_events table if needed
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create trip_events: %w", err)
	}
	return nil
}

// Observe queues an event. Accepted samples are not recorded.
func (r *Recorder) Observe(ev navigation.Event) {
	if ev.Kind == navigation.EventSampleAccepted {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded because the queue was full
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Run inserts queued events until ctx is done
func (r *Recorder) Run(ctx context.Context) error {
	ctx = logging.EnsureLogger(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.queue:
			if err := r.insert(ctx, ev); err != nil {
				logging.Warnw(ctx, "Trip log: insert failed", "kind", ev.Kind, "error", err)
			}
		}
	}
}

func (r *Recorder) insert(ctx context.Context, ev navigation.Event) error {
	var lat, lon, destLat, destLon, dist, dur sql.NullFloat64
	if ev.Position != nil {
		lat = nullFloat(ev.Position.Latitude)
		lon = nullFloat(ev.Position.Longitude)
	}
	if ev.Destination != nil {
		destLat = nullFloat(ev.Destination.Latitude)
		destLon = nullFloat(ev.Destination.Longitude)
	}
	if ev.RouteDistance > 0 || ev.RouteDuration > 0 {
		dist = nullFloat(ev.RouteDistance)
		dur = nullFloat(ev.RouteDuration.Seconds())
	}
	errText := sql.NullString{String: ev.Err, Valid: ev.Err != ""}

	_, err := r.db.ExecContext(ctx, insertEvent,
		string(ev.Kind), ev.Time, ev.StepIndex, lat, lon, destLat, destLon, dist, dur, errText)
	if err != nil {
		return fmt.Errorf("insert trip event: %w", err)
	}
	return nil
}

func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}
