// Package dispatcher owns the table of in-flight voting FSMs, routes decoded
// bus events into them, and is the sole mutator of that table: neither the
// FSM nor the bus adapter ever reaches into it directly.
package dispatcher

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/andante-project/yadtreceiver/pkg/agenterr"
	"github.com/andante-project/yadtreceiver/pkg/election"
	"github.com/andante-project/yadtreceiver/pkg/events"
	"github.com/andante-project/yadtreceiver/pkg/log"
	"github.com/andante-project/yadtreceiver/pkg/types"

	"sync"
)

// VotePublisher publishes this replica's vote for an in-flight election.
type VotePublisher interface {
	PublishVote(target, vote, trackingID string)
}

// LifecyclePublisher publishes started/failed/finished lifecycle events.
type LifecyclePublisher interface {
	PublishCmd(target, cmd, state, message, trackingID string)
}

// Bus is the subset of the broadcaster adapter the dispatcher needs.
type Bus interface {
	VotePublisher
	LifecyclePublisher
}

// MetricRegistry is the subset of the metric registry the dispatcher needs.
type MetricRegistry interface {
	Inc(key string)
}

// Supervisor spawns the child process for a winning election. onTerminal is
// called exactly once, after the child's terminal lifecycle event has been
// published and metrics incremented, so the dispatcher can clean up the
// election record.
type Supervisor interface {
	Spawn(req types.Request, onTerminal func())
}

// GraphiteNotifier is the best-effort update side channel.
type GraphiteNotifier interface {
	Notify(target string)
}

// Showdown arms a one-shot, cancellable timer that calls onExpire after
// timeout. Implemented by pkg/scheduler.
type Showdown interface {
	Arm(timeout time.Duration, onExpire func()) election.CancellableTimer
}

// Dispatcher holds the tracking-id -> election table and is the sole
// mutator of it.
type Dispatcher struct {
	bus         Bus
	metrics     MetricRegistry
	supervisor  Supervisor
	graphite    GraphiteNotifier
	showdown    Showdown
	targetsDir  string
	showdownDur time.Duration
	logger      zerolog.Logger

	mu     sync.Mutex
	table  map[string]*election.FSM
	closed bool
}

// Config bundles the dispatcher's collaborators.
type Config struct {
	Bus         Bus
	Metrics     MetricRegistry
	Supervisor  Supervisor
	Graphite    GraphiteNotifier
	Showdown    Showdown
	TargetsDir      string
	ShowdownTimeout time.Duration // defaults to 10s if zero
}

// New constructs a Dispatcher with an empty election table.
func New(cfg Config) *Dispatcher {
	showdownDur := cfg.ShowdownTimeout
	if showdownDur == 0 {
		showdownDur = 10 * time.Second
	}
	return &Dispatcher{
		bus:         cfg.Bus,
		metrics:     cfg.Metrics,
		supervisor:  cfg.Supervisor,
		graphite:    cfg.Graphite,
		showdown:    cfg.Showdown,
		targetsDir:  cfg.TargetsDir,
		showdownDur: showdownDur,
		logger:      log.WithComponent("dispatcher"),
		table:       make(map[string]*election.FSM),
	}
}

// SetBus wires the bus after construction, breaking the bus<->dispatcher
// construction cycle (the bus needs a Dispatcher to route into; the
// dispatcher needs a Bus to publish through).
func (d *Dispatcher) SetBus(b Bus) {
	d.mu.Lock()
	d.bus = b
	d.mu.Unlock()
}

// OnRequest handles a decoded `request` event: generates this replica's vote,
// allocates an election keyed by tracking id (overwriting any prior entry
// under the same key, matching upstream behavior), arms the showdown timer,
// and enters Voting (which broadcasts the vote).
func (d *Dispatcher) OnRequest(ev events.Event) {
	req := types.Request{
		Target:     types.Target(ev.Target),
		Command:    ev.Cmd,
		Arguments:  ev.Args,
		TrackingID: ev.TrackingID,
	}
	if req.TrackingID == "" {
		req.TrackingID = types.TrackingIDFromArgs(ev.Args)
	}

	ownVote := uuid.New().String()
	logger := log.WithTrackingID(req.TrackingID)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	fsm := election.New(req.TrackingID, ownVote, election.Callbacks{
		Broadcast: func(trackingID, vote string) {
			d.bus.PublishVote(string(req.Target), vote, trackingID)
		},
		Execute: func(trackingID string) {
			d.execute(trackingID, req)
		},
		Fold: func(trackingID string) {
			d.metrics.Inc("voting_folds")
			logger.Debug().Msg("folded: higher peer vote seen")
		},
		Cleanup: func(trackingID string) {
			d.cleanup(trackingID)
		},
		Anomaly: func(trackingID, reason string) {
			logger.Warn().Str("reason", reason).Msg("election anomaly")
		},
	}, func(f *election.FSM) election.CancellableTimer {
		return d.showdown.Arm(d.showdownDur, f.Showdown)
	})

	d.mu.Lock()
	d.table[req.TrackingID] = fsm
	d.mu.Unlock()
}

// OnVote handles a decoded `vote` event by routing it to the matching
// election, if any. Votes for unknown tracking ids (arrived before the
// request, under reordering, or for an election this replica already
// completed) are logged as "already lost" and dropped.
func (d *Dispatcher) OnVote(ev events.Event) {
	d.mu.Lock()
	fsm, ok := d.table[ev.TrackingID]
	d.mu.Unlock()
	if !ok {
		log.WithTrackingID(ev.TrackingID).Debug().Msg("already lost: no election for this tracking id")
		return
	}
	fsm.ReceiveVote(ev.VotePayload)
}

// execute is the FSM's Execute callback. It mirrors perform_request's order
// exactly: count the win, publish `started` and count it, notify the FSM
// that execution is under way, and only then resolve the target directory
// and hand off to the subprocess supervisor. Resolving the directory last
// means a missing directory still leaves a `started` on the bus, matching
// upstream's get_target_directory being called after publish_start inside
// the same try block. Exceptions surface as `failed` lifecycle events and
// commands_failed increments; the election still transitions to cleanup.
func (d *Dispatcher) execute(trackingID string, req types.Request) {
	target := string(req.Target)
	logger := log.WithRequest(target, trackingID)

	d.metrics.Inc("voting_wins")
	d.bus.PublishCmd(target, req.Command, "started", "", trackingID)
	d.metrics.Inc(fmt.Sprintf("commands_started.%s", target))

	if req.IsUpdate() && d.graphite != nil {
		d.graphite.Notify(target)
	}

	d.mu.Lock()
	fsm := d.table[trackingID]
	d.mu.Unlock()
	if fsm != nil {
		fsm.Spawned()
	}

	dir := filepath.Join(d.targetsDir, target)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		msg := fmt.Sprintf("%v: %s", agenterr.ErrTargetDirMissing, dir)
		logger.Error().Msg(msg)
		d.bus.PublishCmd(target, req.Command, "failed", msg, trackingID)
		d.metrics.Inc(fmt.Sprintf("commands_failed.%s", target))
		d.doneFSM(trackingID)
		return
	}

	d.supervisor.Spawn(req, func() {
		d.doneFSM(trackingID)
	})
}

// doneFSM transitions the election to Done, which fires Cleanup.
func (d *Dispatcher) doneFSM(trackingID string) {
	d.mu.Lock()
	fsm, ok := d.table[trackingID]
	d.mu.Unlock()
	if ok {
		fsm.Done()
	}
}

// cleanup removes the election record and logs the remaining count.
func (d *Dispatcher) cleanup(trackingID string) {
	d.mu.Lock()
	delete(d.table, trackingID)
	remaining := len(d.table)
	d.mu.Unlock()
	log.WithTrackingID(trackingID).Debug().Int("remaining_elections", remaining).Msg("election cleaned up")
}

// Shutdown cancels all pending showdown timers without invoking execute or
// cleanup callbacks, and blocks further requests from allocating new
// elections.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.closed = true
	fsms := make([]*election.FSM, 0, len(d.table))
	for _, fsm := range d.table {
		fsms = append(fsms, fsm)
	}
	d.table = make(map[string]*election.FSM)
	d.mu.Unlock()

	for _, fsm := range fsms {
		fsm.CancelTimer()
	}
}

// PendingElections returns the current election table size, for tests and
// health reporting.
func (d *Dispatcher) PendingElections() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.table)
}
