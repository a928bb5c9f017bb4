package events

import (
	"fmt"
	"sort"

	"github.com/andante-project/yadtreceiver/pkg/agenterr"
)

// Kind is the bus event discriminator carried in the "id" field.
type Kind string

const (
	KindRequest       Kind = "request"
	KindVote          Kind = "vote"
	KindCmd           Kind = "cmd"
	KindServiceChange Kind = "service-change"
	KindFullUpdate    Kind = "full-update"
	KindHeartbeat     Kind = "heartbeat"
	KindCallInfo      Kind = "call-info"
	KindOther         Kind = "other"
)

// CmdState is the lifecycle state carried by a `cmd` echo event.
type CmdState string

const (
	CmdStarted  CmdState = "started"
	CmdFailed   CmdState = "failed"
	CmdFinished CmdState = "finished"
)

// ServiceChangeEntry is one element of a service-change event's payload.
type ServiceChangeEntry struct {
	URI   string
	State string
}

// Event is the decoded, tagged-variant projection of an inbound bus message.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind Kind

	// request
	Cmd       string
	Args      []string
	Target    string
	TrackingID string

	// vote
	VotePayload string

	// cmd (lifecycle echo)
	CmdState CmdState
	Message  string

	// service-change
	ServiceChanges []ServiceChangeEntry

	// other
	OtherID string
}

// Decode validates an opaque map (as produced by unmarshaling a bus message)
// and projects it into a tagged Event. Decoding is pure and side-effect free:
// it never logs, never mutates its input, and never blocks.
func Decode(raw map[string]any) (Event, error) {
	rawID, ok := raw["id"]
	if !ok {
		return Event{}, fmt.Errorf("%w: missing \"id\" discriminator", agenterr.ErrIncompleteEvent)
	}
	id, ok := rawID.(string)
	if !ok {
		return Event{}, fmt.Errorf("%w: \"id\" is not a string", agenterr.ErrInvalidEventType)
	}

	switch Kind(id) {
	case KindRequest:
		return decodeRequest(raw)
	case KindVote:
		return decodeVote(raw)
	case KindCmd:
		return decodeCmd(raw)
	case KindServiceChange:
		return decodeServiceChange(raw)
	case KindFullUpdate:
		return Event{Kind: KindFullUpdate}, nil
	case KindHeartbeat:
		return Event{Kind: KindHeartbeat}, nil
	case KindCallInfo:
		return Event{Kind: KindCallInfo}, nil
	default:
		return Event{Kind: KindOther, OtherID: id}, nil
	}
}

func decodeRequest(raw map[string]any) (Event, error) {
	cmd, ok := raw["cmd"].(string)
	if !ok {
		return Event{}, fmt.Errorf("%w: request missing \"cmd\"", agenterr.ErrIncompleteEvent)
	}
	rawArgs, ok := raw["args"].([]any)
	if !ok {
		return Event{}, fmt.Errorf("%w: request missing \"args\"", agenterr.ErrIncompleteEvent)
	}
	args := make([]string, 0, len(rawArgs))
	for _, a := range rawArgs {
		s, ok := a.(string)
		if !ok {
			return Event{}, fmt.Errorf("%w: request arg is not a string", agenterr.ErrInvalidEventType)
		}
		args = append(args, s)
	}
	ev := Event{Kind: KindRequest, Cmd: cmd, Args: args}
	if t, ok := raw["target"].(string); ok {
		ev.Target = t
	}
	if tid, ok := raw["tracking_id"].(string); ok {
		ev.TrackingID = tid
	}
	return ev, nil
}

func decodeVote(raw map[string]any) (Event, error) {
	payload, ok := raw["payload"].(string)
	if !ok {
		return Event{}, fmt.Errorf("%w: vote missing \"payload\"", agenterr.ErrIncompleteEvent)
	}
	tid, ok := raw["tracking_id"].(string)
	if !ok {
		return Event{}, fmt.Errorf("%w: vote missing \"tracking_id\"", agenterr.ErrIncompleteEvent)
	}
	ev := Event{Kind: KindVote, VotePayload: payload, TrackingID: tid}
	if t, ok := raw["target"].(string); ok {
		ev.Target = t
	}
	return ev, nil
}

func decodeCmd(raw map[string]any) (Event, error) {
	cmd, ok := raw["cmd"].(string)
	if !ok {
		return Event{}, fmt.Errorf("%w: cmd event missing \"cmd\"", agenterr.ErrIncompleteEvent)
	}
	state, ok := raw["state"].(string)
	if !ok {
		return Event{}, fmt.Errorf("%w: cmd event missing \"state\"", agenterr.ErrIncompleteEvent)
	}
	switch CmdState(state) {
	case CmdStarted, CmdFailed, CmdFinished:
	default:
		return Event{}, fmt.Errorf("%w: cmd event has unknown state %q", agenterr.ErrInvalidEventType, state)
	}
	ev := Event{Kind: KindCmd, Cmd: cmd, CmdState: CmdState(state)}
	if msg, ok := raw["message"].(string); ok {
		ev.Message = msg
	}
	return ev, nil
}

func decodeServiceChange(raw map[string]any) (Event, error) {
	rawPayload, ok := raw["payload"].([]any)
	if !ok {
		return Event{}, fmt.Errorf("%w: service-change missing \"payload\"", agenterr.ErrIncompleteEvent)
	}
	entries := make([]ServiceChangeEntry, 0, len(rawPayload))
	for _, item := range rawPayload {
		m, ok := item.(map[string]any)
		if !ok {
			return Event{}, fmt.Errorf("%w: service-change entry is not an object", agenterr.ErrPayloadIntegrity)
		}
		uri, ok1 := m["uri"].(string)
		state, ok2 := m["state"].(string)
		if !ok1 || !ok2 {
			return Event{}, fmt.Errorf("%w: service-change entry missing uri/state", agenterr.ErrPayloadIntegrity)
		}
		entries = append(entries, ServiceChangeEntry{URI: uri, State: state})
	}
	return Event{Kind: KindServiceChange, ServiceChanges: entries}, nil
}

// SortedTargets returns targets sorted for reproducible subscribe ordering,
// per the broadcaster adapter's "subscribe in sorted order" contract.
func SortedTargets(targets []string) []string {
	out := append([]string(nil), targets...)
	sort.Strings(out)
	return out
}
