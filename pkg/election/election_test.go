package election

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	stopped int32
}

func (f *fakeTimer) Stop() bool {
	return atomic.CompareAndSwapInt32(&f.stopped, 0, 1)
}

func newTestFSM(t *testing.T, cb Callbacks) (*FSM, *fakeTimer) {
	t.Helper()
	timer := &fakeTimer{}
	fsm := New("tr-1", "own-vote", cb, func(*FSM) CancellableTimer { return timer })
	return fsm, timer
}

func TestNew_EntersVotingAndBroadcasts(t *testing.T) {
	var broadcastID, broadcastVote string
	fsm, _ := newTestFSM(t, Callbacks{
		Broadcast: func(trackingID, vote string) { broadcastID, broadcastVote = trackingID, vote },
	})

	assert.Equal(t, Voting, fsm.State())
	assert.Equal(t, "tr-1", broadcastID)
	assert.Equal(t, "own-vote", broadcastVote)
}

func TestReceiveVote_HigherPeerFoldsAndCancelsTimer(t *testing.T) {
	var folded, cleaned int32
	fsm, timer := newTestFSM(t, Callbacks{
		Fold:    func(string) { atomic.AddInt32(&folded, 1) },
		Cleanup: func(string) { atomic.AddInt32(&cleaned, 1) },
	})

	fsm.ReceiveVote("zzz-higher-than-own-vote")

	assert.Equal(t, Folded, fsm.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&folded))
	assert.Equal(t, int32(1), atomic.LoadInt32(&cleaned))
	assert.Equal(t, int32(1), atomic.LoadInt32(&timer.stopped))
}

func TestReceiveVote_LowerPeerStaysVoting(t *testing.T) {
	var folded int32
	fsm, _ := newTestFSM(t, Callbacks{
		Fold: func(string) { atomic.AddInt32(&folded, 1) },
	})

	fsm.ReceiveVote("aaa-lower-than-own-vote")

	assert.Equal(t, Voting, fsm.State())
	assert.Equal(t, int32(0), atomic.LoadInt32(&folded))
}

func TestReceiveVote_IgnoredOutsideVoting(t *testing.T) {
	var folded int32
	fsm, _ := newTestFSM(t, Callbacks{
		Fold: func(string) { atomic.AddInt32(&folded, 1) },
	})

	fsm.Showdown() // -> Executing
	require.Equal(t, Executing, fsm.State())

	fsm.ReceiveVote("zzz-higher-than-own-vote")

	assert.Equal(t, Executing, fsm.State(), "a vote after showdown must not change state")
	assert.Equal(t, int32(0), atomic.LoadInt32(&folded))
}

func TestShowdown_TransitionsOnceToExecuting(t *testing.T) {
	var executions int32
	fsm, _ := newTestFSM(t, Callbacks{
		Execute: func(string) { atomic.AddInt32(&executions, 1) },
	})

	fsm.Showdown()
	fsm.Showdown() // second call must be a no-op: at-most-one execute

	assert.Equal(t, Executing, fsm.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&executions))
}

func TestShowdown_NoOpAfterFold(t *testing.T) {
	var executions int32
	fsm, _ := newTestFSM(t, Callbacks{
		Execute: func(string) { atomic.AddInt32(&executions, 1) },
	})

	fsm.ReceiveVote("zzz-higher-than-own-vote")
	fsm.Showdown()

	assert.Equal(t, Folded, fsm.State())
	assert.Equal(t, int32(0), atomic.LoadInt32(&executions), "a showdown racing a fold must not execute")
}

func TestSpawned_AnomalyWhenNotExecuting(t *testing.T) {
	var reason string
	fsm, _ := newTestFSM(t, Callbacks{
		Anomaly: func(_, r string) { reason = r },
	})

	fsm.Spawned()

	assert.Contains(t, reason, "voting")
}

func TestSpawned_NoAnomalyWhenExecuting(t *testing.T) {
	called := false
	fsm, _ := newTestFSM(t, Callbacks{
		Anomaly: func(string, string) { called = true },
	})
	fsm.Showdown()

	fsm.Spawned()

	assert.False(t, called)
}

func TestDone_FiresCleanup(t *testing.T) {
	var cleaned int32
	fsm, _ := newTestFSM(t, Callbacks{
		Cleanup: func(string) { atomic.AddInt32(&cleaned, 1) },
	})
	fsm.Showdown()

	fsm.Done()

	assert.Equal(t, Done, fsm.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&cleaned))
}

func TestCancelTimer_DoesNotInvokeCallbacks(t *testing.T) {
	var executed, cleaned int32
	fsm, timer := newTestFSM(t, Callbacks{
		Execute: func(string) { atomic.AddInt32(&executed, 1) },
		Cleanup: func(string) { atomic.AddInt32(&cleaned, 1) },
	})

	fsm.CancelTimer()

	assert.Equal(t, int32(1), atomic.LoadInt32(&timer.stopped))
	assert.Equal(t, int32(0), atomic.LoadInt32(&executed))
	assert.Equal(t, int32(0), atomic.LoadInt32(&cleaned))
}
