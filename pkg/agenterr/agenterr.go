// Package agenterr declares the error kinds the request-handling pipeline
// classifies its failures into, so callers can branch with errors.Is instead
// of string-matching messages.
package agenterr

import "errors"

var (
	ErrIncompleteEvent     = errors.New("incomplete-event")
	ErrInvalidEventType    = errors.New("invalid-event-type")
	ErrPayloadIntegrity    = errors.New("payload-integrity")
	ErrTargetDirMissing    = errors.New("target-directory-missing")
	ErrSpawnFailed         = errors.New("spawn-failed")
	ErrChildNonZeroExit    = errors.New("child-nonzero-exit")
	ErrBusTransport        = errors.New("bus-transport")
	ErrConfigMissing       = errors.New("config-missing")
	ErrNoAllowedTargets    = errors.New("no allowed targets configured")
)
