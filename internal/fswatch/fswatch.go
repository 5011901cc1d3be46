// Package fswatch defines the file-change notification capability the scanner
// consumes. The scanner never assumes a concrete implementation; hosts inject
// the fsnotify-backed adapter or their own.
package fswatch

import "fmt"

// ChangeType represents the kind of filesystem change observed.
type ChangeType int

const (
	Created ChangeType = iota
	Changed
	Deleted
)

func (t ChangeType) String() string {
	switch t {
	case Created:
		return "created"
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Change is a single filesystem change. Path is the entry the change applies
// to; when a directory is watched this is the affected child, when a file is
// watched it is the file itself.
type Change struct {
	Type ChangeType
	Path string
}

// Subscription delivers changes for one watched path until closed.
type Subscription interface {
	// Events returns the change stream. The channel is closed when the
	// subscription is closed or the underlying watch is lost.
	Events() <-chan Change

	// Errors returns watch errors that did not terminate the subscription.
	Errors() <-chan error

	// Close releases the watch and its resources. Safe to call more than once.
	Close() error
}

// Watcher creates subscriptions for individual paths.
type Watcher interface {
	Watch(path string) (Subscription, error)
}
