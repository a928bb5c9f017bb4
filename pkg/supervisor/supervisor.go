// Package supervisor spawns the external deployment script for a target and
// couples its lifecycle to bus events: start the child, stream its output,
// and publish exactly one terminal lifecycle event from it.
package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"

	"github.com/andante-project/yadtreceiver/pkg/agenterr"
	"github.com/andante-project/yadtreceiver/pkg/log"
	"github.com/andante-project/yadtreceiver/pkg/types"
)

// OutputPublisher streams a line of child stdout/stderr to the bus, tagged
// with the correlation id.
type OutputPublisher interface {
	PublishOutput(target, trackingID, stream, line string)
}

// LifecyclePublisher publishes the child's terminal lifecycle event.
type LifecyclePublisher interface {
	PublishCmd(target, cmd, state, message, trackingID string)
}

// MetricRegistry is the subset of the metric registry the supervisor needs.
type MetricRegistry interface {
	Inc(key string)
}

// CommandFactory builds the *exec.Cmd for a request. Exposed as a field so
// tests can substitute a fake interpreter without touching python_command.
type CommandFactory func(dir, interpreter, script string, args []string) *exec.Cmd

// Supervisor spawns argv = [interpreter, script, ...arguments] in
// cwd = targetsDir/target with an empty environment, streams stdout/stderr
// line-buffered to the bus, and publishes exactly one terminal lifecycle
// event per child.
type Supervisor struct {
	interpreter string
	script      string
	targetsDir  string
	output      OutputPublisher
	lifecycle   LifecyclePublisher
	metrics     MetricRegistry
	newCmd      CommandFactory
}

// Config bundles the supervisor's collaborators.
type Config struct {
	Interpreter string
	Script      string
	TargetsDir  string
	Output      OutputPublisher
	Lifecycle   LifecyclePublisher
	Metrics     MetricRegistry
	// NewCmd overrides command construction; nil uses exec.Command.
	NewCmd CommandFactory
}

// New constructs a Supervisor.
func New(cfg Config) *Supervisor {
	newCmd := cfg.NewCmd
	if newCmd == nil {
		newCmd = func(dir, interpreter, script string, args []string) *exec.Cmd {
			argv := append([]string{script}, args...)
			cmd := exec.Command(interpreter, argv...)
			cmd.Dir = dir
			cmd.Env = []string{}
			return cmd
		}
	}
	return &Supervisor{
		interpreter: cfg.Interpreter,
		script:      cfg.Script,
		targetsDir:  cfg.TargetsDir,
		output:      cfg.Output,
		lifecycle:   cfg.Lifecycle,
		metrics:     cfg.Metrics,
		newCmd:      newCmd,
	}
}

// SetPublishers wires the output/lifecycle sinks after construction, for
// callers that construct the supervisor before the bus adapter exists.
func (s *Supervisor) SetPublishers(output OutputPublisher, lifecycle LifecyclePublisher) {
	s.output = output
	s.lifecycle = lifecycle
}

// Spawn runs the deployment script for req in a new goroutine, streaming
// output and publishing exactly one terminal event. onTerminal is called
// after the terminal event has been published and metrics incremented,
// regardless of outcome. The caller (the dispatcher) has already verified
// the target directory exists and published `started` before calling Spawn;
// no spawn occurs here unless that precondition held.
func (s *Supervisor) Spawn(req types.Request, onTerminal func()) {
	go s.run(req, onTerminal)
}

func (s *Supervisor) run(req types.Request, onTerminal func()) {
	target := string(req.Target)
	logger := log.WithRequest(target, req.TrackingID)
	defer onTerminal()

	dir := filepath.Join(s.targetsDir, target)
	cmd := s.newCmd(dir, s.interpreter, s.script, req.Arguments)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.fail(target, req, fmt.Sprintf("%v: %v", agenterr.ErrSpawnFailed, err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.fail(target, req, fmt.Sprintf("%v: %v", agenterr.ErrSpawnFailed, err))
		return
	}

	if err := cmd.Start(); err != nil {
		s.fail(target, req, fmt.Sprintf("%v: %v", agenterr.ErrSpawnFailed, err))
		return
	}
	logger.Info().Int("pid", cmd.Process.Pid).Msg("child process spawned")

	done := make(chan struct{}, 2)
	go s.streamLines(target, req.TrackingID, "stdout", stdout, done)
	go s.streamLines(target, req.TrackingID, "stderr", stderr, done)
	<-done
	<-done

	if err := cmd.Wait(); err != nil {
		s.fail(target, req, fmt.Sprintf("%v: %v", agenterr.ErrChildNonZeroExit, err))
		return
	}

	s.lifecycle.PublishCmd(target, req.Command, "finished", "", req.TrackingID)
	s.metrics.Inc(fmt.Sprintf("commands_finished.%s", target))
}

// streamLines line-buffers r to the bus tagged with trackingID, flushing any
// partial trailing line on EOF.
func (s *Supervisor) streamLines(target, trackingID, stream string, r io.Reader, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.output.PublishOutput(target, trackingID, stream, scanner.Text())
	}
}

func (s *Supervisor) fail(target string, req types.Request, message string) {
	log.WithRequest(target, req.TrackingID).Error().Msg(message)
	s.lifecycle.PublishCmd(target, req.Command, "failed", message, req.TrackingID)
	s.metrics.Inc(fmt.Sprintf("commands_failed.%s", target))
}
