// Package policy maps storage lifecycle events to transform actions. The
// host rule engine emits a fixed set of events; the mapping is exhaustive
// over that set and rejects anything else.
package policy

import (
	"fmt"

	"github.com/packfs/packfs/pkg/errors"
)

// Event identifies a storage lifecycle event emitted by the host.
type Event string

const (
	// EventPreOpen fires just before an object is opened for reading.
	EventPreOpen Event = "pre-open"

	// EventPostWrite fires after an object has been written or ingested.
	EventPostWrite Event = "post-write"

	// EventPostOpen fires after a read of the object has completed.
	EventPostOpen Event = "post-open"
)

// Action is the transform the pipeline runs for an event.
type Action string

const (
	ActionCompress   Action = "compress"
	ActionDecompress Action = "decompress"
)

// Resolve maps an event to the action the pipeline should run:
//
//	pre-open   -> decompress  (the consumer expects raw bytes)
//	post-write -> compress    (store compactly at rest)
//	post-open  -> compress    (restore at-rest compression after a read)
//
// Unknown events are a configuration error.
func Resolve(event Event) (Action, error) {
	switch event {
	case EventPreOpen:
		return ActionDecompress, nil
	case EventPostWrite:
		return ActionCompress, nil
	case EventPostOpen:
		return ActionCompress, nil
	default:
		return "", errors.NewError(errors.ErrCodeUnknownEvent,
			fmt.Sprintf("unknown lifecycle event: %q", event)).
			WithComponent("policy").
			WithOperation("resolve")
	}
}

// ParseAction validates an action string supplied directly by the caller.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionCompress:
		return ActionCompress, nil
	case ActionDecompress:
		return ActionDecompress, nil
	default:
		return "", errors.NewError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("invalid action: %q (must be compress or decompress)", s)).
			WithComponent("policy")
	}
}
