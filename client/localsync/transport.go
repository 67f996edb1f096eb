// Package localsync reproduces the room session manager's guarantees for
// collaborators sharing one machine, with no server involved. Tabs
// exchange commits over a local broadcast transport; conflict avoidance
// is last-write-wins with self-echo suppression, the same policy the
// networked path applies at fan-out.
package localsync

import (
	"flowsync/domain/events"
)

// Commit is one tab's published state change. Timestamp orders commits
// (unix nanoseconds); Origin identifies the publishing session so a tab
// never re-applies its own commit.
type Commit struct {
	Timestamp int64              `msgpack:"ts"`
	Origin    string             `msgpack:"origin"`
	Event     events.ChangeEvent `msgpack:"event"`
	// Removed lists element ids deleted by this commit, so the
	// union-merge on the receiving side does not resurrect them.
	Removed []string `msgpack:"removed,omitempty"`
}

// LocalTransport is the capability a tab publishes through. Both
// implementations deliver each commit at most once per origin, and never
// back to the publisher.
type LocalTransport interface {
	Publish(c Commit) error
	// Subscribe registers the inbound handler; the returned function
	// unsubscribes. A transport carries at most one subscriber.
	Subscribe(fn func(Commit)) func()
	Close() error
}

// Select picks the primary broadcast transport when one is available and
// falls back to the shared-file transport otherwise. Mirrors runtime
// feature detection in the browser.
func Select(bus *Bus, origin, fallbackPath string) (LocalTransport, error) {
	if bus != nil {
		return bus.NewTransport(origin), nil
	}
	return NewFileTransport(fallbackPath, origin)
}
