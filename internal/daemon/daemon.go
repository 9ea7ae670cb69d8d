// Package daemon runs sweeps on a schedule next to a metrics server.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"
)

// SweepFunc runs one full sweep pass.
type SweepFunc func(ctx context.Context) error

// Housekeeping is a maintenance task scheduled next to the sweep.
type Housekeeping struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Config holds daemon configuration. Cron wins over Interval when both
// are set. An empty MetricsAddr disables the HTTP server.
type Config struct {
	Cron        string
	Interval    time.Duration
	MetricsAddr string
	Gatherer    prometheus.Gatherer
}

// Daemon manages the sweep schedule.
type Daemon struct {
	cfg          Config
	sweep        SweepFunc
	housekeeping []Housekeeping
	logger       zerolog.Logger
	meter        metric.Meter
	metrics      *Metrics

	startTime time.Time
	runCount  atomic.Int64
	lastRun   atomic.Int64
	ready     atomic.Bool
	addr      atomic.Value
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the daemon logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// WithMeter records daemon metrics on meter.
func WithMeter(m metric.Meter) Option {
	return func(d *Daemon) { d.meter = m }
}

// WithHousekeeping schedules an extra maintenance task.
func WithHousekeeping(h Housekeeping) Option {
	return func(d *Daemon) { d.housekeeping = append(d.housekeeping, h) }
}

// NewDaemon creates a new daemon instance.
func NewDaemon(cfg Config, sweep SweepFunc, opts ...Option) (*Daemon, error) {
	if sweep == nil {
		return nil, errors.New("sweep func is required")
	}
	if cfg.Cron == "" && cfg.Interval <= 0 {
		return nil, errors.New("either cron or a positive interval is required")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	d := &Daemon{
		cfg:       cfg,
		sweep:     sweep,
		logger:    log.Logger,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(d)
	}

	for _, h := range d.housekeeping {
		if h.Run == nil || h.Interval <= 0 {
			return nil, fmt.Errorf("housekeeping %q needs a task and a positive interval", h.Name)
		}
	}

	m, err := NewMetrics(d.meter)
	if err != nil {
		return nil, fmt.Errorf("create daemon metrics: %w", err)
	}
	d.metrics = m
	d.logger = d.logger.With().Str("component", "daemon").Logger()
	return d, nil
}

// Start runs the scheduler, the metrics server and a signal handler until
// ctx ends, a signal arrives, or an actor fails. A signal or a cancelled
// ctx is a clean stop.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched, err := d.newScheduler(ctx)
	if err != nil {
		return err
	}

	var g run.Group

	// Scheduler
	g.Add(func() error {
		sched.Start()
		d.logger.Info().Str("cron", d.cfg.Cron).Dur("interval", d.cfg.Interval).Msg("scheduler started")
		<-ctx.Done()
		return nil
	}, func(error) {
		cancel()
		if err := sched.Shutdown(); err != nil {
			d.logger.Warn().Err(err).Msg("scheduler shutdown")
		}
	})

	// Metrics server
	if d.cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", d.cfg.MetricsAddr)
		if err != nil {
			_ = sched.Shutdown()
			return fmt.Errorf("listen on %s: %w", d.cfg.MetricsAddr, err)
		}
		d.addr.Store(ln.Addr().String())
		srv := &http.Server{Handler: d.Handler(), ReadHeaderTimeout: 10 * time.Second}

		g.Add(func() error {
			d.logger.Info().Str("addr", ln.Addr().String()).Msg("starting metrics server")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	// Signals
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()

	var sigErr run.SignalError
	switch {
	case errors.As(err, &sigErr):
		d.logger.Info().Str("signal", sigErr.Signal.String()).Msg("received signal, shutting down")
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

func (d *Daemon) newScheduler(ctx context.Context) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	def := gocron.DurationJob(d.cfg.Interval)
	if d.cfg.Cron != "" {
		def = gocron.CronJob(d.cfg.Cron, false)
	}

	_, err = s.NewJob(def,
		gocron.NewTask(func() { d.runSweep(ctx) }),
		gocron.WithName("sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}

	for _, h := range d.housekeeping {
		_, err = s.NewJob(gocron.DurationJob(h.Interval),
			gocron.NewTask(func() { d.runHousekeeping(ctx, h) }),
			gocron.WithName(h.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = s.Shutdown()
			return nil, fmt.Errorf("schedule %s: %w", h.Name, err)
		}
	}

	return s, nil
}

func (d *Daemon) runSweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	n := d.runCount.Add(1)
	d.logger.Info().Int64("run", n).Msg("sweep starting")

	status := "success"
	if err := d.sweep(ctx); err != nil {
		status = "error"
		d.logger.Error().Err(err).Int64("run", n).Msg("sweep failed")
	}

	elapsed := time.Since(start)
	d.metrics.RecordRun(ctx, status, elapsed)
	d.lastRun.Store(time.Now().Unix())
	d.ready.Store(true)

	d.logger.Info().Int64("run", n).Str("status", status).Dur("duration", elapsed).Msg("sweep finished")
}

func (d *Daemon) runHousekeeping(ctx context.Context, h Housekeeping) {
	if ctx.Err() != nil {
		return
	}

	status := "success"
	if err := h.Run(ctx); err != nil {
		status = "error"
		d.logger.Warn().Err(err).Str("task", h.Name).Msg("housekeeping failed")
	}
	d.metrics.RecordHousekeeping(ctx, h.Name, status)
}

// Handler serves /metrics, /health, /-/healthy and /-/ready.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.cfg.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.Health())
	})
	mux.HandleFunc("/-/healthy", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/-/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !d.ready.Load() {
			http.Error(w, "first sweep pending", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready\n"))
	})
	return mux
}

// Health returns daemon health status.
func (d *Daemon) Health() HealthStatus {
	hs := HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
		Runs:   d.runCount.Load(),
	}
	if last := d.lastRun.Load(); last > 0 {
		hs.LastRun = time.Unix(last, 0).UTC()
	}
	return hs
}

// HealthStatus represents daemon health.
type HealthStatus struct {
	Status  string    `json:"status"`
	Uptime  int64     `json:"uptime_seconds"`
	Runs    int64     `json:"runs"`
	LastRun time.Time `json:"last_run,omitzero"`
}

// RunCount returns the number of sweeps started.
func (d *Daemon) RunCount() int64 {
	return d.runCount.Load()
}

// Addr returns the metrics server address once it is listening.
func (d *Daemon) Addr() string {
	s, _ := d.addr.Load().(string)
	return s
}
