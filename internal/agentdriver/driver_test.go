package agentdriver

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor/agord/internal/collab"
)

type fakeProcess struct {
	frames   chan collab.Frame
	stderrCh chan string
	signals  []int
	waitCh   chan struct{}
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		frames:   make(chan collab.Frame, 16),
		stderrCh: make(chan string, 16),
		waitCh:   make(chan struct{}),
	}
}

func (p *fakeProcess) Send([]byte) error { return nil }

func (p *fakeProcess) NextMessage(ctx context.Context) (collab.Frame, error) {
	select {
	case f, ok := <-p.frames:
		if !ok {
			return collab.Frame{}, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return collab.Frame{}, ctx.Err()
	}
}

func (p *fakeProcess) Stderr() <-chan string { return p.stderrCh }

func (p *fakeProcess) Signal(sig int) error {
	p.signals = append(p.signals, sig)
	return nil
}

func (p *fakeProcess) Wait() (int, error) {
	<-p.waitCh
	return 0, nil
}

type fakeSpawner struct{ proc *fakeProcess }

func (s *fakeSpawner) Spawn(context.Context, collab.SpawnParams) (collab.Process, error) {
	return s.proc, nil
}

func TestDriverRunEmitsEventsAndClosesOnResult(t *testing.T) {
	proc := newFakeProcess()
	d := New(&fakeSpawner{proc: proc}, time.Minute, time.Second, nil)

	events, getStderr, err := d.Run(context.Background(), collab.SpawnParams{Cmd: "claude"}, false)
	require.NoError(t, err)

	proc.frames <- collab.Frame{Raw: []byte(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}`)}
	proc.frames <- collab.Frame{Raw: []byte(`{"type":"result","subtype":"success"}`)}
	proc.stderrCh <- "some debug line"
	close(proc.stderrCh)

	var seen []EventType
	for ev := range events {
		seen = append(seen, ev.Type)
	}
	assert.Contains(t, seen, EventComplete)
	assert.Equal(t, EventEnd, seen[len(seen)-1])

	require.Eventually(t, func() bool { return len(getStderr()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestDriverRunEndsStopRequestedOnCancel(t *testing.T) {
	proc := newFakeProcess()
	d := New(&fakeSpawner{proc: proc}, time.Minute, 50*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	events, _, err := d.Run(ctx, collab.SpawnParams{Cmd: "claude"}, false)
	require.NoError(t, err)

	cancel()
	close(proc.waitCh)

	var last Event
	for ev := range events {
		last = ev
	}
	assert.Equal(t, EventEnd, last.Type)
	assert.Equal(t, EndReasonStopRequested, last.Reason)
	assert.Contains(t, proc.signals, 15)
}

func TestDriverRunEndsTimeoutAfterFiveMessagesIdle(t *testing.T) {
	proc := newFakeProcess()
	d := New(&fakeSpawner{proc: proc}, 30*time.Millisecond, 10*time.Millisecond, nil)

	events, _, err := d.Run(context.Background(), collab.SpawnParams{Cmd: "claude"}, false)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		proc.frames <- collab.Frame{Raw: []byte(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"x"}]}}`)}
	}

	var last Event
	timeout := time.After(2 * time.Second)
	close(proc.waitCh)
loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			last = ev
		case <-timeout:
			t.Fatal("driver did not emit a timeout end event in time")
		}
	}
	assert.Equal(t, EventEnd, last.Type)
	assert.Equal(t, EndReasonTimeout, last.Reason)
}
