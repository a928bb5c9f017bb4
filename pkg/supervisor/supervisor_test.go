package supervisor

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andante-project/yadtreceiver/pkg/types"
)

type outputLine struct {
	target, trackingID, stream, line string
}

type fakeOutput struct {
	mu    sync.Mutex
	lines []outputLine
}

func (f *fakeOutput) PublishOutput(target, trackingID, stream, line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, outputLine{target, trackingID, stream, line})
}

func (f *fakeOutput) snapshot() []outputLine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outputLine(nil), f.lines...)
}

type cmdPublish struct {
	target, cmd, state, message, trackingID string
}

type fakeLifecycle struct {
	mu   sync.Mutex
	cmds []cmdPublish
}

func (f *fakeLifecycle) PublishCmd(target, cmd, state, message, trackingID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmdPublish{target, cmd, state, message, trackingID})
}

func (f *fakeLifecycle) snapshot() []cmdPublish {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cmdPublish(nil), f.cmds...)
}

type fakeMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeMetrics() *fakeMetrics { return &fakeMetrics{counts: make(map[string]int)} }

func (f *fakeMetrics) Inc(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
}

func (f *fakeMetrics) get(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[key]
}

// shellCommandFactory builds a /bin/sh -c command instead of python, so tests
// don't depend on a python interpreter being present.
func shellCommandFactory(script string) CommandFactory {
	return func(dir, interpreter, scriptPath string, args []string) *exec.Cmd {
		cmd := exec.Command("/bin/sh", "-c", script)
		cmd.Dir = dir
		cmd.Env = []string{}
		return cmd
	}
}

func newTestSupervisor(t *testing.T, script string) (*Supervisor, *fakeOutput, *fakeLifecycle, *fakeMetrics) {
	t.Helper()
	out := &fakeOutput{}
	lc := &fakeLifecycle{}
	m := newFakeMetrics()
	// The dispatcher verifies the target directory before Spawn; the child's
	// working directory must exist for it to start at all.
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "dev01"), 0o755))
	s := New(Config{
		Interpreter: "python",
		Script:      "deploy.py",
		TargetsDir:  base,
		Output:      out,
		Lifecycle:   lc,
		Metrics:     m,
		NewCmd:      shellCommandFactory(script),
	})
	return s, out, lc, m
}

func TestSpawn_StreamsStdoutAndPublishesFinished(t *testing.T) {
	s, out, lc, m := newTestSupervisor(t, `echo line1; echo line2; exit 0`)

	done := make(chan struct{})
	s.Spawn(types.Request{Target: "dev01", Command: "yadtshell", TrackingID: "T1"}, func() { close(done) })
	<-done

	lines := out.snapshot()
	require.Len(t, lines, 2)
	assert.Equal(t, "line1", lines[0].line)
	assert.Equal(t, "line2", lines[1].line)
	assert.Equal(t, "stdout", lines[0].stream)

	cmds := lc.snapshot()
	require.Len(t, cmds, 1)
	assert.Equal(t, "finished", cmds[0].state)
	assert.Equal(t, 1, m.get("commands_finished.dev01"))
}

func TestSpawn_NonZeroExitPublishesFailed(t *testing.T) {
	s, _, lc, m := newTestSupervisor(t, `exit 3`)

	done := make(chan struct{})
	s.Spawn(types.Request{Target: "dev01", Command: "yadtshell", TrackingID: "T1"}, func() { close(done) })
	<-done

	cmds := lc.snapshot()
	require.Len(t, cmds, 1)
	assert.Equal(t, "failed", cmds[0].state)
	assert.Equal(t, 1, m.get("commands_failed.dev01"))
}

func TestSpawn_StreamsStderrSeparately(t *testing.T) {
	s, out, _, _ := newTestSupervisor(t, `echo oops 1>&2; exit 0`)

	done := make(chan struct{})
	s.Spawn(types.Request{Target: "dev01", Command: "yadtshell", TrackingID: "T1"}, func() { close(done) })
	<-done

	lines := out.snapshot()
	require.Len(t, lines, 1)
	assert.Equal(t, "stderr", lines[0].stream)
	assert.Equal(t, "oops", lines[0].line)
}

func TestSetPublishers_WiresAfterConstruction(t *testing.T) {
	m := newFakeMetrics()
	s := New(Config{
		Interpreter: "python",
		Script:      "deploy.py",
		TargetsDir:  t.TempDir(),
		Metrics:     m,
		NewCmd:      shellCommandFactory(`exit 0`),
	})
	lc := &fakeLifecycle{}
	out := &fakeOutput{}
	s.SetPublishers(out, lc)

	done := make(chan struct{})
	s.Spawn(types.Request{Target: "dev01", Command: "yadtshell", TrackingID: "T1"}, func() { close(done) })
	<-done

	require.Len(t, lc.snapshot(), 1)
}
