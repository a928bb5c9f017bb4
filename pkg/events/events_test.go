package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andante-project/yadtreceiver/pkg/agenterr"
)

func TestDecode_Request(t *testing.T) {
	raw := map[string]any{
		"id":          "request",
		"cmd":         "yadtshell",
		"args":        []any{"update", "--tracking-id=abc123"},
		"target":      "dev01",
		"tracking_id": "abc123",
	}

	ev, err := Decode(raw)

	require.NoError(t, err)
	assert.Equal(t, KindRequest, ev.Kind)
	assert.Equal(t, "yadtshell", ev.Cmd)
	assert.Equal(t, []string{"update", "--tracking-id=abc123"}, ev.Args)
	assert.Equal(t, "dev01", ev.Target)
	assert.Equal(t, "abc123", ev.TrackingID)
}

func TestDecode_RequestMissingCmd(t *testing.T) {
	raw := map[string]any{"id": "request", "args": []any{}}

	_, err := Decode(raw)

	require.Error(t, err)
	assert.True(t, errors.Is(err, agenterr.ErrIncompleteEvent))
}

func TestDecode_RequestArgNotString(t *testing.T) {
	raw := map[string]any{"id": "request", "cmd": "yadtshell", "args": []any{"update", 7}}

	_, err := Decode(raw)

	require.Error(t, err)
	assert.True(t, errors.Is(err, agenterr.ErrInvalidEventType))
}

func TestDecode_Vote(t *testing.T) {
	raw := map[string]any{
		"id":          "vote",
		"payload":     "7b6b0e4e-...",
		"tracking_id": "abc123",
		"target":      "dev01",
	}

	ev, err := Decode(raw)

	require.NoError(t, err)
	assert.Equal(t, KindVote, ev.Kind)
	assert.Equal(t, "7b6b0e4e-...", ev.VotePayload)
	assert.Equal(t, "abc123", ev.TrackingID)
}

func TestDecode_VoteMissingTrackingID(t *testing.T) {
	raw := map[string]any{"id": "vote", "payload": "x"}

	_, err := Decode(raw)

	require.Error(t, err)
	assert.True(t, errors.Is(err, agenterr.ErrIncompleteEvent))
}

func TestDecode_CmdKnownStates(t *testing.T) {
	for _, state := range []string{"started", "failed", "finished"} {
		raw := map[string]any{"id": "cmd", "cmd": "yadtshell", "state": state, "message": "hi"}

		ev, err := Decode(raw)

		require.NoError(t, err)
		assert.Equal(t, KindCmd, ev.Kind)
		assert.Equal(t, CmdState(state), ev.CmdState)
		assert.Equal(t, "hi", ev.Message)
	}
}

func TestDecode_CmdUnknownState(t *testing.T) {
	raw := map[string]any{"id": "cmd", "cmd": "yadtshell", "state": "sideways"}

	_, err := Decode(raw)

	require.Error(t, err)
	assert.True(t, errors.Is(err, agenterr.ErrInvalidEventType))
}

func TestDecode_ServiceChange(t *testing.T) {
	raw := map[string]any{
		"id": "service-change",
		"payload": []any{
			map[string]any{"uri": "service://dev01/app", "state": "up"},
		},
	}

	ev, err := Decode(raw)

	require.NoError(t, err)
	assert.Equal(t, KindServiceChange, ev.Kind)
	require.Len(t, ev.ServiceChanges, 1)
	assert.Equal(t, "service://dev01/app", ev.ServiceChanges[0].URI)
}

func TestDecode_ServiceChangeMalformedEntry(t *testing.T) {
	raw := map[string]any{
		"id":      "service-change",
		"payload": []any{map[string]any{"uri": "x"}},
	}

	_, err := Decode(raw)

	require.Error(t, err)
	assert.True(t, errors.Is(err, agenterr.ErrPayloadIntegrity))
}

func TestDecode_InformationalKindsNeverError(t *testing.T) {
	for _, id := range []string{"full-update", "heartbeat", "call-info"} {
		ev, err := Decode(map[string]any{"id": id})
		require.NoError(t, err)
		assert.Equal(t, Kind(id), ev.Kind)
	}
}

func TestDecode_UnknownKindFallsBackToOther(t *testing.T) {
	ev, err := Decode(map[string]any{"id": "something-new"})

	require.NoError(t, err)
	assert.Equal(t, KindOther, ev.Kind)
	assert.Equal(t, "something-new", ev.OtherID)
}

func TestDecode_MissingID(t *testing.T) {
	_, err := Decode(map[string]any{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, agenterr.ErrIncompleteEvent))
}

func TestDecode_IDNotString(t *testing.T) {
	_, err := Decode(map[string]any{"id": 42})

	require.Error(t, err)
	assert.True(t, errors.Is(err, agenterr.ErrInvalidEventType))
}

func TestSortedTargets_DoesNotMutateInput(t *testing.T) {
	in := []string{"z", "a", "m"}

	out := SortedTargets(in)

	assert.Equal(t, []string{"a", "m", "z"}, out)
	assert.Equal(t, []string{"z", "a", "m"}, in)
}

