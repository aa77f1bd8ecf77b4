// Package triplog records navigation events for later review: a rotating
// JSON-lines journal on disk and an optional Postgres table.
package triplog

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dpup/hud.ersn.net/client/internal/lib/navigation"
)

// JournalConfig configures the on-disk journal
type JournalConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Journal writes engine events as JSON lines. Accepted samples are only
// written when Verbose is set since they arrive at the position rate.
type Journal struct {
	logger  *zap.Logger
	closer  io.Closer
	Verbose bool
}

// NewJournal opens a rotating journal file
func NewJournal(cfg JournalConfig) *Journal {
	w := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB, // MB
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	j := NewJournalWithWriter(w)
	j.closer = w
	return j
}

// NewJournalWithWriter creates a journal writing to w
func NewJournalWithWriter(w io.Writer) *Journal {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "logged_at"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), zapcore.DebugLevel)
	return &Journal{logger: zap.New(core)}
}

// Observe writes one event. It is a navigation.Observer.
func (j *Journal) Observe(ev navigation.Event) {
	if ev.Kind == navigation.EventSampleAccepted && !j.Verbose {
		return
	}

	fields := []zap.Field{
		zap.String("kind", string(ev.Kind)),
		zap.Time("time", ev.Time),
		zap.Int("step_index", ev.StepIndex),
	}
	if ev.Position != nil {
		fields = append(fields, zap.Float64("lat", ev.Position.Latitude), zap.Float64("lon", ev.Position.Longitude))
	}
	if ev.Destination != nil {
		fields = append(fields,
			zap.Float64("dest_lat", ev.Destination.Latitude),
			zap.Float64("dest_lon", ev.Destination.Longitude))
	}
	if ev.RouteDistance > 0 {
		fields = append(fields, zap.Float64("route_distance_m", ev.RouteDistance))
	}
	if ev.RouteDuration > 0 {
		fields = append(fields, zap.Duration("route_duration", ev.RouteDuration))
	}

	switch {
	case ev.Err != "":
		j.logger.Warn("navigation event", append(fields, zap.String("error", ev.Err))...)
	case ev.Kind == navigation.EventSampleAccepted:
		j.logger.Debug("navigation event", fields...)
	default:
		j.logger.Info("navigation event", fields...)
	}
}

// Close flushes and closes the journal
func (j *Journal) Close() error {
	_ = j.logger.Sync()
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}
