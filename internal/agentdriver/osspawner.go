package agentdriver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/agor/agord/internal/collab"
)

// OSSpawner implements collab.ProcessSpawner by launching a real host
// subprocess under the requested Unix identity via syscall.Credential —
// the direct-process-isolation replacement for the teacher's Docker-exec
// transport (see DESIGN.md's dropped-dependency note).
type OSSpawner struct{}

func NewOSSpawner() *OSSpawner { return &OSSpawner{} }

func (s *OSSpawner) Spawn(ctx context.Context, p collab.SpawnParams) (collab.Process, error) {
	cmd := exec.CommandContext(ctx, p.Cmd, p.Args...)
	cmd.Env = p.Env
	cmd.Dir = p.Cwd
	if p.UID != 0 {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{
				Uid:    uint32(p.UID),
				Gid:    uint32(p.GID),
				Groups: intsToUint32(p.SupplementaryGroups),
			},
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent process: %w", err)
	}

	proc := &osProcess{
		cmd:       cmd,
		stdin:     stdin,
		frames:    make(chan collab.Frame),
		stderrCh:  make(chan string, 64),
		readErrCh: make(chan error, 1),
	}
	proc.pumps.Go(func() error {
		proc.readStdout(stdout)
		return nil
	})
	proc.pumps.Go(func() error {
		proc.readStderr(stderr)
		return nil
	})
	return proc, nil
}

func intsToUint32(in []int) []uint32 {
	out := make([]uint32, len(in))
	for i, v := range in {
		out[i] = uint32(v)
	}
	return out
}

// osProcess wraps a real *exec.Cmd, adapting it to collab.Process.
type osProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	frames    chan collab.Frame
	stderrCh  chan string
	readErrCh chan error
	pumps     errgroup.Group

	waitOnce sync.Once
	waitErr  error
	exitCode int
}

func (p *osProcess) Send(b []byte) error {
	b = append(b, '\n')
	_, err := p.stdin.Write(b)
	return err
}

func (p *osProcess) NextMessage(ctx context.Context) (collab.Frame, error) {
	select {
	case f, ok := <-p.frames:
		if !ok {
			return collab.Frame{}, <-p.readErrCh
		}
		return f, nil
	case <-ctx.Done():
		return collab.Frame{}, ctx.Err()
	}
}

func (p *osProcess) Stderr() <-chan string { return p.stderrCh }

func (p *osProcess) Signal(sig int) error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(syscall.Signal(sig))
}

func (p *osProcess) Wait() (int, error) {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		// Join the stdout/stderr pump goroutines so callers observing the
		// exit code also see a fully drained frames/stderr channel pair.
		// The pumps return only after every line they read has been handed
		// over on those channels, so this blocks until a reader drains them.
		_ = p.pumps.Wait()
		if p.waitErr == nil {
			p.exitCode = 0
			return
		}
		if exitErr, ok := p.waitErr.(*exec.ExitError); ok {
			p.exitCode = exitErr.ExitCode()
		} else {
			p.exitCode = -1
		}
	})
	return p.exitCode, p.waitErr
}

func (p *osProcess) readStdout(r io.Reader) {
	defer close(p.frames)
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		p.frames <- collab.Frame{Raw: cp}
	}
	if err := scanner.Err(); err != nil {
		p.readErrCh <- err
	} else {
		p.readErrCh <- io.EOF
	}
}

func (p *osProcess) readStderr(r io.Reader) {
	defer close(p.stderrCh)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.stderrCh <- scanner.Text()
	}
}
