package agentdriver

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/agor/agord/internal/apierr"
	"github.com/agor/agord/internal/collab"
	"github.com/agor/agord/internal/logging"
	"go.uber.org/zap"
)

const (
	defaultIdleTimeout   = 30 * time.Second
	defaultGracePeriod   = 5 * time.Second
	idleTimeoutAfterNMsg = 5
)

// Driver runs one agent subprocess for one prompt and converts its
// streaming protocol into the Event enum (§4.6).
type Driver struct {
	spawner      collab.ProcessSpawner
	idleTimeout  time.Duration
	gracePeriod  time.Duration
	log          *logging.Logger
}

// New builds a Driver. idleTimeout/gracePeriod of zero fall back to the
// spec's defaults (30s / 5s).
func New(spawner collab.ProcessSpawner, idleTimeout, gracePeriod time.Duration, log *logging.Logger) *Driver {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	if gracePeriod <= 0 {
		gracePeriod = defaultGracePeriod
	}
	if log == nil {
		log = logging.Default()
	}
	return &Driver{spawner: spawner, idleTimeout: idleTimeout, gracePeriod: gracePeriod, log: log}
}

// stderrRing is a bounded ring buffer of the most recent stderr lines.
type stderrRing struct {
	mu    sync.Mutex
	lines []string
	cap   int
}

func newStderrRing(capacity int) *stderrRing {
	return &stderrRing{cap: capacity}
}

func (r *stderrRing) push(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.cap {
		r.lines = r.lines[len(r.lines)-r.cap:]
	}
}

func (r *stderrRing) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// Run spawns the agent process described by params/args, streams its
// output through a Classifier, and returns a channel of Events closed when
// the run ends. getStderr returns the captured stderr ring at any time.
func (d *Driver) Run(ctx context.Context, params collab.SpawnParams, streamingEnabled bool) (events <-chan Event, getStderr func() []string, err error) {
	proc, err := d.spawner.Spawn(ctx, params)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.KindAgentSpawnFailed, "spawn agent process", err, map[string]any{"cmd": params.Cmd})
	}

	stderr := newStderrRing(200)
	go d.drainStderr(proc, stderr)

	out := make(chan Event, 16)
	go d.runLoop(ctx, proc, streamingEnabled, out, stderr)

	return out, stderr.snapshot, nil
}

func (d *Driver) drainStderr(proc collab.Process, ring *stderrRing) {
	for line := range proc.Stderr() {
		if line == "" {
			continue
		}
		ring.push(line)
		d.log.Debug("agent stderr", zap.String("line", line))
	}
}

func (d *Driver) runLoop(ctx context.Context, proc collab.Process, streamingEnabled bool, out chan<- Event, stderr *stderrRing) {
	defer close(out)
	classifier := NewClassifier(streamingEnabled)

	idleTimer := time.NewTimer(d.idleTimeout)
	defer idleTimer.Stop()

	frames := make(chan collab.Frame)
	frameErrs := make(chan error, 1)
	readCtx, cancelRead := context.WithCancel(context.Background())
	defer cancelRead()
	go func() {
		for {
			frame, err := proc.NextMessage(readCtx)
			if err != nil {
				frameErrs <- err
				return
			}
			select {
			case frames <- frame:
			case <-readCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			d.terminate(proc)
			out <- Event{Type: EventEnd, Reason: EndReasonStopRequested}
			return

		case <-idleTimer.C:
			if classifier.MessageCount() >= idleTimeoutAfterNMsg {
				d.terminate(proc)
				out <- Event{Type: EventEnd, Reason: EndReasonTimeout}
				return
			}
			idleTimer.Reset(d.idleTimeout)

		case err := <-frameErrs:
			if err == io.EOF {
				return
			}
			d.log.Warn("agent stream read failed", zap.Error(err))
			out <- Event{Type: EventEnd, Reason: EndReasonError}
			return

		case frame := <-frames:
			if SawActivity(frame.Raw) {
				if !idleTimer.Stop() {
					select {
					case <-idleTimer.C:
					default:
					}
				}
				idleTimer.Reset(d.idleTimeout)
			}
			evs, err := classifier.Process(frame.Raw)
			if err != nil {
				d.log.Warn("failed to classify agent frame", zap.Error(err), zap.String("raw", string(bytes.TrimSpace(frame.Raw))))
				continue
			}
			for _, ev := range evs {
				out <- ev
				if ev.Type == EventEnd {
					return
				}
			}
		}
	}
}

func (d *Driver) terminate(proc collab.Process) {
	const sigterm = 15
	const sigkill = 9
	if err := proc.Signal(sigterm); err != nil {
		d.log.Warn("failed to send sigterm to agent process", zap.Error(err))
	}
	done := make(chan struct{})
	go func() {
		proc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.gracePeriod):
		if err := proc.Signal(sigkill); err != nil {
			d.log.Warn("failed to send sigkill to agent process", zap.Error(err))
		}
	}
}

