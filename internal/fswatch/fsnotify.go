package fswatch

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultEventsBuffer = 100
	defaultErrorsBuffer = 10
)

// FSNotify is the fsnotify-backed Watcher. Each Watch call owns its own
// OS-level watch, so subscriptions can be closed independently.
type FSNotify struct{}

// NewFSNotify returns the default filesystem watcher.
func NewFSNotify() *FSNotify {
	return &FSNotify{}
}

// Watch starts watching path. The path must exist; watching a directory
// reports changes to its direct children, watching a file reports changes to
// the file itself.
func (*FSNotify) Watch(path string) (Subscription, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	s := &fsnotifySub{
		fsw:    fsw,
		events: make(chan Change, defaultEventsBuffer),
		errors: make(chan error, defaultErrorsBuffer),
		done:   make(chan struct{}),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()

	return s, nil
}

type fsnotifySub struct {
	fsw    *fsnotify.Watcher
	events chan Change
	errors chan error
	done   chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (s *fsnotifySub) run() {
	defer close(s.events)
	defer close(s.errors)

	for {
		select {
		case <-s.done:
			return
		case evt, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			if c := translate(evt); c != nil {
				s.emit(*c)
			}
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			select {
			case s.errors <- err:
			default:
				// Best-effort: drop if consumer is stalled.
			}
		}
	}
}

func (s *fsnotifySub) Events() <-chan Change { return s.events }

func (s *fsnotifySub) Errors() <-chan error { return s.errors }

func (s *fsnotifySub) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	// Closing the underlying watcher unblocks the run loop.
	err := s.fsw.Close()
	s.wg.Wait()
	return err
}

func (s *fsnotifySub) emit(c Change) {
	select {
	case s.events <- c:
	default:
		// Best-effort: drop if consumer is stalled. The scanner rescans on
		// the next notification or flush tick, so dropped changes only delay.
	}
}

func translate(e fsnotify.Event) *Change {
	if e.Name == "" {
		return nil
	}

	var t ChangeType
	switch {
	case e.Op&fsnotify.Create != 0:
		t = Created
	case e.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		t = Deleted
	case e.Op&(fsnotify.Write|fsnotify.Chmod) != 0:
		t = Changed
	default:
		return nil
	}

	return &Change{Type: t, Path: e.Name}
}
