// Command screensaverd is the single compiled artifact for the
// screensaver's concurrency substrate: run without -worker it is the
// host process (ThreadManager, ResourceManager, ProcessSupervisor,
// render timer, display barrier); run with -worker=<kind> it re-execs
// as one of the four worker process bodies, reading framed requests
// from stdin and writing framed responses to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auroraframe/screensaver/internal/barrier"
	"github.com/auroraframe/screensaver/internal/logx"
	"github.com/auroraframe/screensaver/internal/rendertimer"
	"github.com/auroraframe/screensaver/internal/resource"
	"github.com/auroraframe/screensaver/internal/settings"
	"github.com/auroraframe/screensaver/internal/supervisor"
	"github.com/auroraframe/screensaver/internal/threadmgr"
	"github.com/auroraframe/screensaver/internal/worker"
	"github.com/auroraframe/screensaver/internal/workermsg"
)

func main() {
	workerKind := flag.String("worker", "", "run as a worker process body of the given kind (image, rss, fft, transition) instead of the host process")
	configPath := flag.String("config", "", "path to a TOML settings file; defaults to the embedded defaults")
	displays := flag.Int("displays", 1, "number of displays to register with the transition barrier")
	flag.Parse()

	if *workerKind != "" {
		if err := runWorker(workermsg.WorkerType(*workerKind)); err != nil {
			fmt.Fprintln(os.Stderr, "screensaverd: worker exited with error:", err)
			os.Exit(1)
		}
		return
	}

	if err := runHost(*configPath, *displays); err != nil {
		fmt.Fprintln(os.Stderr, "screensaverd:", err)
		os.Exit(1)
	}
}

// runWorker constructs the handler for kind and drives it from stdin to
// stdout via the shared worker.Loop harness until Shutdown or EOF.
func runWorker(kind workermsg.WorkerType) error {
	log := logx.New("worker." + string(kind))

	var handler worker.Handler
	switch kind {
	case workermsg.WorkerImage:
		handler = worker.NewImageHandler(log)
	case workermsg.WorkerRSS:
		handler = worker.NewRSSHandler(log)
	case workermsg.WorkerFFT:
		handler = worker.NewFFTHandler(log)
	case workermsg.WorkerTransition:
		handler = worker.NewTransitionHandler(log, 1920, 1080)
	default:
		return fmt.Errorf("unknown worker kind %q", kind)
	}

	return worker.New(kind, handler, log, nil, nil).Run()
}

// host bundles every long-lived subsystem the host process owns, so
// shutdown can tear them down in a single deterministic place.
type host struct {
	log        *logx.Logger
	settings   *settings.Settings
	threads    *threadmgr.Manager
	resources  *resource.Manager
	supervisor *supervisor.Supervisor
	barrier    *barrier.DisplayBarrier
	timers     *rendertimer.Manager
}

func runHost(configPath string, displayCount int) error {
	log := logx.New("screensaverd")
	log.Info("starting", logx.String("config", configPath), logx.Int("displays", displayCount))

	cfg, err := loadSettings(configPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	threads := threadmgr.New(log, threadmgr.DefaultConfig())
	h := &host{
		log:       log,
		settings:  cfg,
		threads:   threads,
		resources: resource.New(log),
		barrier:   barrier.New(64, log),
		timers:    rendertimer.NewManager(rendertimerConfig(cfg), threads, log),
	}

	h.supervisor = supervisor.New(log, workerConfigsFromSettings(cfg), supervisor.DefaultSpawn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.supervisor.Start(ctx); err != nil {
		return fmt.Errorf("start worker processes: %w", err)
	}

	for d := 0; d < displayCount; d++ {
		h.barrier.RegisterDisplay(d)
		display := d
		h.timers.TimerFor(display, func() { h.onFrame(display) }).StartTransition()
	}
	h.barrier.SignalCompositorReady()

	supervisionInterval := time.Second
	go h.supervisor.RunSupervisionLoop(ctx, supervisionInterval)

	return h.waitForShutdown(ctx, cancel)
}

// onFrame is the render-timer callback for one display; the real
// compositor hook lives above this layer, so this just logs frame
// ticks at debug level to keep the substrate observably alive.
func (h *host) onFrame(display int) {
	h.log.Debug("frame tick", logx.Int("display", display))
}

func (h *host) waitForShutdown(ctx context.Context, cancel context.CancelFunc) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	h.log.Info("shutdown signal received")
	cancel()
	h.timers.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := h.supervisor.Shutdown(shutdownCtx, 10*time.Second); err != nil {
		h.log.Warn("worker shutdown reported errors", logx.Err(err))
	}

	if err := h.resources.CleanupAll(); err != nil {
		h.log.Warn("resource cleanup reported errors", logx.Err(err))
	}
	h.threads.Shutdown()
	h.log.Info("shutdown complete")
	return nil
}

func loadSettings(path string) (*settings.Settings, error) {
	if path == "" {
		return settings.Defaults(), nil
	}
	return settings.Load(path)
}

func rendertimerConfig(s *settings.Settings) rendertimer.Config {
	return rendertimer.Config{
		TargetFPS:    s.GetInt("rendertimer.target_fps", 60),
		MinFrameTime: s.GetDuration("rendertimer.min_frame_time_ms", 8*time.Millisecond),
		IdleTimeout:  time.Duration(s.GetFloat("rendertimer.idle_timeout_sec", 5.0) * float64(time.Second)),
		MaxDeepSleep: time.Duration(s.GetFloat("rendertimer.max_deep_sleep_sec", 60.0) * float64(time.Second)),
	}
}

// workerConfigsFromSettings builds the per-kind supervisor.WorkerConfig
// table from the [worker.<kind>] sections of cfg.
func workerConfigsFromSettings(cfg *settings.Settings) map[workermsg.WorkerType]supervisor.WorkerConfig {
	out := make(map[workermsg.WorkerType]supervisor.WorkerConfig)
	for _, kind := range []workermsg.WorkerType{
		workermsg.WorkerImage, workermsg.WorkerRSS, workermsg.WorkerFFT, workermsg.WorkerTransition,
	} {
		prefix := "worker." + string(kind)
		out[kind] = supervisor.WorkerConfig{
			RequestQueueSize:  cfg.GetInt(prefix+".request_queue_size", 16),
			ResponseQueueSize: cfg.GetInt(prefix+".response_queue_size", 16),
			DropOldest:        cfg.GetString(prefix+".backpressure_policy", "drop_old") == "drop_old",
			PollTimeout:       cfg.GetDuration(prefix+".poll_timeout_ms", 10*time.Millisecond),
			HeartbeatInterval: cfg.GetDuration(prefix+".heartbeat_interval_ms", 5*time.Second),
			HeartbeatTimeout:  cfg.GetDuration(prefix+".heartbeat_timeout_ms", 15*time.Second),
		}
	}
	return out
}
