// Package coordinator owns the bridge's worker lifecycle: it sequences
// calibration load/cold-start decisions at startup, runs the periodic
// rotator tick, and starts/stops the protocol servers and CAT worker as one
// cancellable unit, the way keskad-loco's LocoApp sequences
// Initialize -> initializeCommandStation before any command can run, scaled
// up to a persistent daemon instead of a one-shot CLI invocation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/keskad/satbridge/pkgs/bus"
	"github.com/keskad/satbridge/pkgs/cat"
	"github.com/keskad/satbridge/pkgs/metrics"
	"github.com/keskad/satbridge/pkgs/protoserver/rigctld"
	"github.com/keskad/satbridge/pkgs/protoserver/rotctld"
	"github.com/keskad/satbridge/pkgs/rotator"
)

// Config holds everything Coordinator needs beyond the already-constructed
// sub-components: file paths, motor speeds and the tick cadence.
type Config struct {
	CalibrationPath string

	AzSpeedPercent int
	ElSpeedPercent int

	// TickInterval is how often the tick loop wakes up; PollOfflineInterval
	// and PollOnlineInterval gate how often that tick actually drives a
	// rotator state-machine step that touches the wire: 2s offline/pending,
	// 5s online.
	TickInterval        time.Duration
	PollOfflineInterval time.Duration
	PollOnlineInterval  time.Duration
}

// DefaultConfig fills in the default tick and poll cadences.
func DefaultConfig() Config {
	return Config{
		TickInterval:        300 * time.Millisecond,
		PollOfflineInterval: 2 * time.Second,
		PollOnlineInterval:  5 * time.Second,
		AzSpeedPercent:      30,
		ElSpeedPercent:      20,
	}
}

// runner is satisfied by every long-lived worker Coordinator starts as part
// of one session epoch.
type runner interface {
	Run(ctx context.Context) error
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Coordinator wires the rotator client/event receiver, the CAT backend and
// the two protocol servers together, and owns the tick loop that drives
// RotatorService's state machine.
type Coordinator struct {
	cfg Config

	rotClient  *rotator.Client
	eventRx    *rotator.EventReceiver
	catSvc     cat.Service
	rotSrv     *rotctld.Server
	rigSrv     *rigctld.Server
	metricsReg *metrics.Registry

	rotService *rotator.Service

	logQueue   *bus.Queue[string]
	eventQueue *bus.Queue[string]

	mu          sync.Mutex
	workers     []runner
	epochCancel context.CancelFunc
	epochGroup  *errgroup.Group
	enabled     bool

	lastPoll time.Time
}

// New assembles a Coordinator from already-constructed sub-components. rigSrv
// must already have its CAT sink wired (rigSrv.CAT); rotSrv's Rotator field
// is wired by Run once calibration has been loaded and RotatorService can be
// constructed.
func New(cfg Config, rotClient *rotator.Client, eventRx *rotator.EventReceiver, catSvc cat.Service, rotSrv *rotctld.Server, rigSrv *rigctld.Server, metricsReg *metrics.Registry) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		rotClient:  rotClient,
		eventRx:    eventRx,
		catSvc:     catSvc,
		rotSrv:     rotSrv,
		rigSrv:     rigSrv,
		metricsReg: metricsReg,
		logQueue:   bus.New[string](512),
		eventQueue: bus.New[string](128),
	}
}

// LogHook returns a logrus.Hook that mirrors every log entry onto the log
// queue, so an (out-of-scope) GUI could tail it without attaching to stderr.
func (c *Coordinator) LogHook() logrus.Hook {
	return &logQueueHook{queue: c.logQueue}
}

type logQueueHook struct {
	queue *bus.Queue[string]
}

func (h *logQueueHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *logQueueHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	h.queue.PushBack(line)
	return nil
}

// Run loads calibration, decides cold-start vs. cal-manual, then runs the
// session epoch and the tick loop until ctx is canceled. On return it saves
// calibration if a valid one was established.
func (c *Coordinator) Run(ctx context.Context) error {
	rec, err := rotator.LoadCalibration(c.cfg.CalibrationPath)
	if err != nil {
		return fmt.Errorf("coordinator: cannot load calibration: %w", err)
	}

	initial := rotator.StateFromCalibration(rec)
	c.rotService = rotator.NewService(c.rotClient, bus.DefaultCapacity, initial, c.cfg.AzSpeedPercent, c.cfg.ElSpeedPercent, c.onRotatorTransition)
	c.rotSrv.Rotator = c.rotService
	c.rigSrv.Metrics = c.metricsReg

	if !rec.Valid() {
		logrus.Info("coordinator: no saved calibration found, entering cal-manual")
		c.rotService.EnterCalManual()
	}

	c.workers = []runner{
		runnerFunc(func(ctx context.Context) error { c.rotService.Run(ctx); return nil }),
		runnerFunc(func(ctx context.Context) error { c.consumePositionEvents(ctx); return nil }),
		runnerFunc(func(ctx context.Context) error { c.eventRx.Run(ctx); return nil }),
		c.catSvc,
		c.rotSrv,
		c.rigSrv,
	}

	topEg, topCtx := errgroup.WithContext(ctx)
	topEg.Go(func() error { return runRecovered(c.metricsReg, topCtx) })

	if err := c.Enable(topCtx); err != nil {
		return err
	}
	topEg.Go(func() error {
		return runRecovered(runnerFunc(func(ctx context.Context) error { c.tickLoop(ctx); return nil }), topCtx)
	})

	runErr := topEg.Wait()
	_ = c.Disable()

	if final := c.rotService.Calibration(); final.Valid() {
		if saveErr := rotator.SaveCalibration(c.cfg.CalibrationPath, final); saveErr != nil {
			logrus.Errorf("coordinator: cannot save calibration: %s", saveErr)
		}
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// Enable starts the session epoch's workers if not already running. It is
// idempotent: calling it twice without an intervening Disable is a no-op.
func (c *Coordinator) Enable(parent context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return nil
	}

	ctx, cancel := context.WithCancel(parent)
	eg, egCtx := errgroup.WithContext(ctx)
	for _, w := range c.workers {
		w := w
		eg.Go(func() error { return runRecovered(w, egCtx) })
	}

	c.epochCancel = cancel
	c.epochGroup = eg
	c.enabled = true
	logrus.Info("coordinator: session epoch enabled")
	return nil
}

// Disable stops the current session epoch and waits for its workers to
// return. It is idempotent: calling it twice without an intervening Enable
// is a no-op.
func (c *Coordinator) Disable() error {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return nil
	}
	cancel := c.epochCancel
	eg := c.epochGroup
	c.enabled = false
	c.epochCancel = nil
	c.epochGroup = nil
	c.mu.Unlock()

	cancel()
	err := eg.Wait()
	logrus.Info("coordinator: session epoch disabled")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runRecovered runs one worker and turns a panic into a logged error instead
// of letting it take down the process.
func runRecovered(w runner, ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("coordinator: worker panicked: %v", r)
			err = fmt.Errorf("worker panicked: %v", r)
		}
	}()
	return w.Run(ctx)
}

func (c *Coordinator) consumePositionEvents(ctx context.Context) {
	for {
		select {
		case ev := <-c.eventRx.Events:
			c.rotService.ApplyPositionEvent(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.onTick()
		}
	}
}

func (c *Coordinator) onTick() {
	c.logQueue.Drain()
	c.eventQueue.Drain()

	st := c.rotService.State()
	if shouldPoll(st.Status, time.Since(c.lastPoll), c.cfg.PollOfflineInterval, c.cfg.PollOnlineInterval) {
		pollStart := time.Now()
		c.rotService.EvaluateTick()
		c.metricsReg.ObservePollLatency(time.Since(pollStart))
		c.lastPoll = time.Now()
	}

	c.metricsReg.SetRotatorStatus(st.Status)
	rig := c.rigSrv.State()
	c.metricsReg.SetPTT(rig.PTTIntent, rig.RigPTT)
}

// shouldPoll decides whether this tick should drive RotatorService.EvaluateTick.
// cal-failed is transient and free of wire traffic, so it is never gated by a
// cadence; offline/pending/online each enqueue a command that does touch the
// wire, so they are gated by the offline or online cadence.
func shouldPoll(status rotator.Status, elapsed, offlineInterval, onlineInterval time.Duration) bool {
	switch status {
	case rotator.StatusCalFailed:
		return true
	case rotator.StatusOffline, rotator.StatusPending:
		return elapsed >= offlineInterval
	case rotator.StatusOnline:
		return elapsed >= onlineInterval
	default:
		return false
	}
}

func (c *Coordinator) onRotatorTransition(status rotator.Status) {
	c.metricsReg.SetRotatorStatus(status)
	c.eventQueue.PushBack(fmt.Sprintf("rotator status -> %s", status))
}

// ManualCalibrate, ManualHome, ManualNudge and ManualSetPTT are the
// operator-surface entry points an external GUI would call; exposed here as
// direct methods since the GUI itself is out of scope for this repository.

func (c *Coordinator) ManualCalibrateAz() error { return c.enqueueAndWait(&rotator.Command{Kind: rotator.KindCalibrateAz}) }
func (c *Coordinator) ManualCalibrateEl() error { return c.enqueueAndWait(&rotator.Command{Kind: rotator.KindCalibrateEl}) }
func (c *Coordinator) ManualHomeAz() error      { return c.enqueueAndWait(&rotator.Command{Kind: rotator.KindHomeAz}) }
func (c *Coordinator) ManualHomeEl() error      { return c.enqueueAndWait(&rotator.Command{Kind: rotator.KindHomeEl}) }
func (c *Coordinator) ManualNudgeAzFwd() error  { return c.enqueueAndWait(&rotator.Command{Kind: rotator.KindNudgeAzFwd}) }
func (c *Coordinator) ManualNudgeAzRev() error  { return c.enqueueAndWait(&rotator.Command{Kind: rotator.KindNudgeAzRev}) }
func (c *Coordinator) ManualNudgeElFwd() error  { return c.enqueueAndWait(&rotator.Command{Kind: rotator.KindNudgeElFwd}) }
func (c *Coordinator) ManualNudgeElRev() error  { return c.enqueueAndWait(&rotator.Command{Kind: rotator.KindNudgeElRev}) }

func (c *Coordinator) enqueueAndWait(cmd *rotator.Command) error {
	cmd.Done = make(chan error, 1)
	c.rotService.Enqueue(cmd)
	return <-cmd.Done
}

// ManualSetPTT sets the operator's PTT intent on the rig protocol server.
// false releases PTT on the CAT link at once; true does not key the
// transmitter itself, which is keyed by the next frequency crossover.
func (c *Coordinator) ManualSetPTT(intent bool) {
	c.rigSrv.ManualSetPTT(intent)
}

// ManualSetFrequency and ManualSetMode drive the CAT link directly, for a
// GUI frequency/mode control that isn't routed through rigctld.
func (c *Coordinator) ManualSetFrequency(hz string) error {
	return c.catSvc.DoCommand(cat.Request{Op: cat.OpFreqSet, Arg: hz})
}

func (c *Coordinator) ManualSetMode(mode string) error {
	return c.catSvc.DoCommand(cat.Request{Op: cat.OpModeSet, Arg: mode})
}

// RotatorState and RigState expose read-only snapshots for a GUI status line.
func (c *Coordinator) RotatorState() rotator.State { return c.rotService.State() }
func (c *Coordinator) RigState() rigctld.State     { return c.rigSrv.State() }
