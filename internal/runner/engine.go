package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/appcap/appcap/internal/experiment"
	"github.com/appcap/appcap/internal/interaction"
	"github.com/appcap/appcap/internal/logging"
)

// Phase names. Baseline iterations run without interception; instrumented
// iterations run with the proxy and dynamic instrumentation attached.
const (
	PhaseBaseline     = "no_frida"
	PhaseInstrumented = "frida"
)

// State names the engine's position in a run, for logging.
type State string

const (
	StateIdle             State = "idle"
	StateOverallCapture   State = "overall_capture_starting"
	StateAwaitingOperator State = "awaiting_operator_ready"
	StatePhaseRunning     State = "phase_running"
	StateCleanup          State = "cleanup"
	StateDone             State = "done"
	StateAborted          State = "aborted"
)

// Process is a long-running supervised process the engine only ever stops.
type Process interface {
	KillTree()
}

// Capture is a per-iteration capture on the phone or a relay host. Stop
// ends the capture; Retrieve moves its output file to localPath and frees
// the remote copy.
type Capture interface {
	Stop() error
	Retrieve(localPath string) error
}

// Engine drives the phase and iteration sequence shared by every experiment
// flavour. The flavour-specific steps are supplied as hooks; a nil optional
// hook disables its step. All hooks are invoked from a single goroutine.
type Engine struct {
	Ctx *experiment.Context
	Log *logging.Logger

	// Run-level hooks.
	PreRun         func(ctx context.Context) error
	SetupRecording func(ctx context.Context) error // offered to the operator when non-nil
	Teardown       func()                          // platform teardown, runs even on abort

	// Iteration hooks.
	ApplyRedirect      func() error
	RevertRedirect     func() error
	StartServerCapture func(outfile string) (Process, error)
	StartDeviceCapture func(phase string, iteration int, name string) (Capture, error)
	StartRelayCapture  func(phase string, iteration int, name string) (Capture, error) // cross-network only

	// LaunchApp starts the app for one iteration, in instrumented mode also
	// the interception proxy and instrumentation, and waits out the app-start
	// settle time. Anything it returns is killed during iteration cleanup,
	// including on error.
	LaunchApp func(ctx context.Context, phase string, iteration int, instrumented bool) ([]Process, error)
	StopApp   func()

	// DriveUI replays the tap script. ok=false means a screen diverged from
	// its baseline: the iteration is marked failed but still cools down, so
	// the post-interaction traffic is captured. An error means the drive
	// itself broke and ends the iteration early.
	DriveUI func(iteration int, phase string) (bool, error)

	// Operator prompts, overridable in tests.
	confirm func(ctx context.Context, prompt string) error
	ask     func(ctx context.Context, prompt string) (bool, error)

	state State
}

func (e *Engine) confirmFn() func(context.Context, string) error {
	if e.confirm != nil {
		return e.confirm
	}
	return interaction.Confirm
}

func (e *Engine) askFn() func(context.Context, string) (bool, error) {
	if e.ask != nil {
		return e.ask
	}
	return interaction.Ask
}

// Run executes the whole experiment. Iteration failures are recorded and
// never abort the run; anything else ends it, but run-level cleanup and the
// summary write still happen first. Cancelling ctx aborts the run through
// the same cleanup path.
func (e *Engine) Run(ctx context.Context) error {
	var overall Process
	runErr := e.runBody(ctx, &overall)

	e.setState(StateCleanup)
	interaction.Status("Stopping overall capture...")
	if overall != nil {
		overall.KillTree()
	}
	if e.Teardown != nil {
		e.Teardown()
	}

	summary, sumErr := e.Ctx.WriteSummary()
	interaction.Status("%s", summary)

	if runErr != nil {
		e.setState(StateAborted)
		return &experiment.RunError{Err: runErr}
	}
	if sumErr != nil {
		e.setState(StateAborted)
		return &experiment.RunError{Err: sumErr}
	}
	e.setState(StateDone)
	return nil
}

func (e *Engine) runBody(ctx context.Context, overall *Process) error {
	if e.PreRun != nil {
		if err := e.PreRun(ctx); err != nil {
			return err
		}
	}

	e.setState(StateOverallCapture)
	interaction.Status("Starting overall capture on server...")
	outfile := filepath.Join(e.Ctx.Path, fmt.Sprintf("overall-%s.pcap", e.Ctx.DeviceName))
	h, err := e.StartServerCapture(outfile)
	if err != nil {
		return fmt.Errorf("failed to start overall capture: %w", err)
	}
	*overall = h

	e.setState(StateAwaitingOperator)
	if e.SetupRecording != nil {
		record, err := e.askFn()(ctx, "Record setup phase of the device?")
		if err != nil {
			return err
		}
		if record {
			if err := e.SetupRecording(ctx); err != nil {
				return fmt.Errorf("setup recording failed: %w", err)
			}
		}
	}
	if err := e.confirmFn()(ctx, "Finish taking the coordinates"); err != nil {
		return err
	}

	if err := e.runPhase(ctx, PhaseBaseline, e.Ctx.Config.NoFridaIterations, false); err != nil {
		return err
	}
	return e.runPhase(ctx, PhaseInstrumented, e.Ctx.Config.FridaIterations, true)
}

// runPhase runs the configured number of iterations. It returns early only
// on cancellation; individual iteration failures are already recorded.
func (e *Engine) runPhase(ctx context.Context, phase string, iterations int, instrumented bool) error {
	e.setState(StatePhaseRunning)
	e.Log.Info("starting phase", "phase", phase, "iterations", iterations)
	interaction.Status("%s phase: %d iterations", phase, iterations)

	for i := 1; i <= iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		interaction.Status("  %s iteration %d/%d...", phase, i, iterations)
		e.runIteration(ctx, phase, i, instrumented)
	}
	e.Log.Info("phase complete", "phase", phase)
	return nil
}

// runIteration executes one acquire/use/release cycle. The cleanup half
// always runs, each step individually guarded, and the ledger append is its
// final unconditional action.
func (e *Engine) runIteration(ctx context.Context, phase string, i int, instrumented bool) {
	log := e.Log.With("phase", phase).With("iteration", i)
	phaseDir := e.Ctx.PhaseDir(phase)
	dev := e.Ctx.DeviceName

	deviceName := fmt.Sprintf("iteration-%d-%s-phone-%s.pcap", i, phase, dev)
	relayName := fmt.Sprintf("iteration-%d-%s-remote-%s.pcap", i, phase, dev)

	var (
		server          Process
		deviceCap       Capture
		relayCap        Capture
		appProcs        []Process
		redirectApplied bool
	)

	success := true
	err := func() error {
		if instrumented {
			log.Info("applying traffic redirection rules")
			if err := e.ApplyRedirect(); err != nil {
				return fmt.Errorf("failed to apply redirect rules: %w", err)
			}
			redirectApplied = true
		}

		log.Info("starting server capture")
		serverPcap := filepath.Join(phaseDir, fmt.Sprintf("iteration-%d-%s-server-%s.pcap", i, phase, dev))
		var err error
		server, err = e.StartServerCapture(serverPcap)
		if err != nil {
			return fmt.Errorf("failed to start server capture: %w", err)
		}

		log.Info("starting device capture")
		deviceCap, err = e.StartDeviceCapture(phase, i, deviceName)
		if err != nil {
			return fmt.Errorf("failed to start device capture: %w", err)
		}

		if e.StartRelayCapture != nil {
			log.Info("starting relay capture")
			relayCap, err = e.StartRelayCapture(phase, i, relayName)
			if err != nil {
				return fmt.Errorf("failed to start relay capture: %w", err)
			}
		}

		log.Info("starting app", "instrumented", instrumented)
		interaction.Status("    starting app...")
		appProcs, err = e.LaunchApp(ctx, phase, i, instrumented)
		if err != nil {
			return fmt.Errorf("failed to start app: %w", err)
		}

		log.Info("driving UI")
		interaction.Status("    triggering taps on phone...")
		ok, err := e.DriveUI(i, phase)
		if err != nil {
			return fmt.Errorf("ui drive failed: %w", err)
		}
		if !ok {
			success = false
			log.Warn("iteration marked failed, screens diverged from baseline")
		}

		return e.sleep(ctx, "between_iterations", 300*time.Second)
	}()
	if err != nil {
		success = false
		log.Error("iteration failed", "error", err)
	}

	// Cleanup: strict reverse of the dependency order, every step guarded
	// so one failure cannot skip the rest.
	if relayCap != nil {
		if err := relayCap.Stop(); err != nil {
			log.Warn("failed to stop relay capture", "error", err)
		}
	}
	if deviceCap != nil {
		if err := deviceCap.Stop(); err != nil {
			log.Warn("failed to stop device capture", "error", err)
		}
	}
	if server != nil {
		server.KillTree()
	}
	for _, p := range appProcs {
		p.KillTree()
	}
	if deviceCap != nil {
		if err := deviceCap.Retrieve(filepath.Join(phaseDir, deviceName)); err != nil {
			log.Warn("failed to retrieve device capture", "error", err)
		}
	}
	if relayCap != nil {
		if err := relayCap.Retrieve(filepath.Join(phaseDir, relayName)); err != nil {
			log.Warn("failed to retrieve relay capture", "error", err)
		}
	}
	if redirectApplied {
		if err := e.RevertRedirect(); err != nil {
			log.Warn("failed to revert redirect rules", "error", err)
		}
	}
	interaction.Status("    stopping app...")
	e.StopApp()
	if err := e.sleep(ctx, "stop_app", 15*time.Second); err != nil {
		log.Warn("teardown sleep skipped", "error", err)
	}

	e.Ctx.Record(phase, i, success)
}

// sleep waits out a configured delay, ending early on cancellation.
func (e *Engine) sleep(ctx context.Context, key string, def time.Duration) error {
	e.Log.Debug("sleeping", "key", key)
	return sleepFor(ctx, e.Ctx, key, def)
}

func (e *Engine) setState(s State) {
	e.state = s
	e.Log.Debug("state transition", "state", string(s))
}
