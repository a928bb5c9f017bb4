// Package election implements the one-round highest-bidder voting FSM: the
// per-request state machine that decides whether this replica executes a
// request or yields to a peer. A tagged-variant state {created, voting,
// folded, executing, done} is preferred here over an object hierarchy so the
// machine stays a flat switch and is trivially testable with injected
// callbacks, matching the fsm.go dispatch style this package is grounded on.
package election

import (
	"sync"
)

// State is one of the FSM's five states.
type State int

const (
	Created State = iota
	Voting
	Folded
	Executing
	Done
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Voting:
		return "voting"
	case Folded:
		return "folded"
	case Executing:
		return "executing"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Callbacks are injected at construction so the FSM can be driven and
// observed in isolation from the bus and subprocess supervisor.
type Callbacks struct {
	// Broadcast is the voting-entry action: publish own vote for trackingID.
	Broadcast func(trackingID, ownVote string)
	// Execute fires exactly once, at most, when the showdown timer expires
	// with the FSM still in Voting.
	Execute func(trackingID string)
	// Fold fires when a higher peer vote is seen while Voting.
	Fold func(trackingID string)
	// Cleanup fires exactly once, when the FSM reaches a terminal state.
	Cleanup func(trackingID string)
	// Anomaly fires for out-of-band conditions worth logging but not acting on
	// (e.g. a "spawned" notification while not Executing).
	Anomaly func(trackingID, reason string)
}

// FSM is one election record: (tracking id, own vote, state, cancellable
// showdown timer). It is safe for concurrent use; callers typically drive it
// from a single dispatcher goroutine, but the mutex guards against the
// showdown timer firing concurrently with an inbound vote.
type FSM struct {
	trackingID string
	ownVote    string
	cb         Callbacks

	mu    sync.Mutex
	state State
	timer CancellableTimer
}

// CancellableTimer abstracts the per-election showdown timer so tests can
// supply a fake clock instead of a real time.Timer.
type CancellableTimer interface {
	Stop() bool
}

// New creates an election in the Created state for trackingID with ownVote
// already generated. armTimer is called once, immediately, to arm the
// showdown deadline that will call fsm.Showdown() on expiry; it must return
// the CancellableTimer so Fold/shutdown can cancel it.
func New(trackingID, ownVote string, cb Callbacks, armTimer func(fsm *FSM) CancellableTimer) *FSM {
	fsm := &FSM{
		trackingID: trackingID,
		ownVote:    ownVote,
		cb:         cb,
		state:      Created,
	}
	fsm.enterVoting(armTimer)
	return fsm
}

// OwnVote returns the election's own generated vote string.
func (f *FSM) OwnVote() string {
	return f.ownVote
}

// State returns the current state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FSM) enterVoting(armTimer func(fsm *FSM) CancellableTimer) {
	f.mu.Lock()
	f.state = Voting
	f.mu.Unlock()

	if f.cb.Broadcast != nil {
		f.cb.Broadcast(f.trackingID, f.ownVote)
	}
	f.timer = armTimer(f)
}

// ReceiveVote handles a peer vote. peer > own folds this replica; peer <= own
// is a "call" and leaves state unchanged. Votes received outside Voting are
// ignored.
func (f *FSM) ReceiveVote(peerVote string) {
	f.mu.Lock()
	if f.state != Voting {
		f.mu.Unlock()
		return
	}
	if peerVote > f.ownVote {
		f.state = Folded
		timer := f.timer
		f.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		if f.cb.Fold != nil {
			f.cb.Fold(f.trackingID)
		}
		f.finish()
		return
	}
	// peer <= own: "call", remain in Voting.
	f.mu.Unlock()
}

// Showdown is called by the scheduler when the per-election deadline expires.
// If still Voting, transitions to Executing and fires Execute exactly once.
// A showdown that fires after a fold (timer already stopped, race permitting)
// is a no-op, preserving at-most-one-execute.
func (f *FSM) Showdown() {
	f.mu.Lock()
	if f.state != Voting {
		f.mu.Unlock()
		return
	}
	f.state = Executing
	f.mu.Unlock()

	if f.cb.Execute != nil {
		f.cb.Execute(f.trackingID)
	}
}

// Spawned records that the subprocess supervisor began executing. It is
// informational: if the FSM isn't Executing, an anomaly is logged but the
// state is left untouched — tolerated weirdness, not an error.
func (f *FSM) Spawned() {
	f.mu.Lock()
	state := f.state
	f.mu.Unlock()
	if state != Executing && f.cb.Anomaly != nil {
		f.cb.Anomaly(f.trackingID, "spawned notification received in state "+state.String())
	}
}

// Done transitions Executing to Done and fires Cleanup; in any other state
// it is a no-op. Called by the dispatcher once the subprocess supervisor
// reports a terminal event.
func (f *FSM) Done() {
	f.mu.Lock()
	if f.state != Executing {
		f.mu.Unlock()
		return
	}
	f.state = Done
	f.mu.Unlock()
	f.finish()
}

// finish invokes Cleanup exactly once per FSM lifetime.
func (f *FSM) finish() {
	if f.cb.Cleanup != nil {
		f.cb.Cleanup(f.trackingID)
	}
}

// CancelTimer stops the showdown timer without invoking any callback, for use
// when the dispatcher is torn down and no cleanup/execute callbacks should
// fire.
func (f *FSM) CancelTimer() {
	f.mu.Lock()
	timer := f.timer
	f.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}
