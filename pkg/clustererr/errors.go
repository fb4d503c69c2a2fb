// Package clustererr defines the error taxonomy used across the cluster
// packages (§7): transient-coordinator, transient-peer, invalid-input,
// not-ready, and fatal. Callers distinguish them with errors.Is against the
// sentinels, following the same pattern as the teacher's pkg/cluster/errors.go.
package clustererr

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientCoordinator covers coordinator timeouts and reconnects in
	// progress. No operation retries it internally: setup and hot-path
	// operations alike surface it to the caller.
	ErrTransientCoordinator = errors.New("cluster: transient coordinator error")

	// ErrTransientPeer covers a failed send or a peer that is gone. Dropped;
	// heartbeat-driven cleanup repairs the fleet view.
	ErrTransientPeer = errors.New("cluster: transient peer error")

	// ErrInvalidInput covers missing required fields or an unknown event
	// name. Surfaced to the caller as a validation failure.
	ErrInvalidInput = errors.New("cluster: invalid input")

	// ErrNotReady signals an operation that requires node.Ready() and it
	// isn't. Logged at warn level and dropped for broadcast-only hooks,
	// deferred via a retry loop for beforeJoin.
	ErrNotReady = errors.New("cluster: node not ready")

	// ErrFatal covers unrecoverable startup failures: coordinator scripts
	// refused to register, or a transport bind failed.
	ErrFatal = errors.New("cluster: fatal error")

	// ErrNotFound is returned by the realtime.count override when the room
	// is still missing from the replica after the single retry.
	ErrNotFound = errors.New("cluster: room not found")
)

// Wrap annotates err with msg while preserving errors.Is matching against
// the given sentinel.
func Wrap(sentinel error, msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", msg, sentinel)
	}
	return fmt.Errorf("%s: %w: %v", msg, sentinel, err)
}
