package nlkit

import (
	"fmt"
	"log/slog"

	"github.com/scitags/nlkit/nlmsg"
)

// An Event is a notification delivered outside the request/reply flow:
// a multicast message from a joined group, or a unicast message whose
// sequence number matched no pending request. A per-message decode
// failure surfaces as an Event with Err set; the stream itself
// continues.
type Event struct {
	// Groups is the multicast group bitmask the message arrived on;
	// zero means an unsolicited unicast message.
	Groups uint32

	Message nlmsg.Message

	Err error
}

// Subscribe joins the given multicast groups. Memberships persist until
// the connection is torn down, which releases them all together.
func (c *Conn) Subscribe(groups ...uint32) error {
	for _, g := range groups {
		if err := c.t.joinGroup(g); err != nil {
			return fmt.Errorf("joining multicast group %d: %w", g, err)
		}
		c.groupsMu.Lock()
		c.groups[g] = struct{}{}
		c.groupsMu.Unlock()
		slog.Debug("joined netlink multicast group", "group", g)
	}
	return nil
}

// Unsubscribe leaves the given multicast groups. The event stream stays
// open; messages from the remaining memberships keep flowing.
func (c *Conn) Unsubscribe(groups ...uint32) error {
	for _, g := range groups {
		if err := c.t.leaveGroup(g); err != nil {
			return fmt.Errorf("leaving multicast group %d: %w", g, err)
		}
		c.groupsMu.Lock()
		delete(c.groups, g)
		c.groupsMu.Unlock()
	}
	return nil
}

// Events returns the connection's notification stream. The sequence is
// logically infinite and pull-driven; it is closed only when the
// connection itself ends. Messages routed here before the first call
// are dropped with a debug log, never silently.
func (c *Conn) Events() <-chan Event {
	c.consuming.Store(true)
	return c.events
}

func (c *Conn) emitEvent(ev Event) {
	if !c.consuming.Load() {
		slog.Debug("dropping netlink message with no event consumer",
			"type", ev.Message.Header.Type,
			"seq", ev.Message.Header.Sequence,
			"groups", ev.Groups,
			"err", ev.Err)
		return
	}
	select {
	case c.eventIn <- ev:
	case <-c.done:
	}
}

// pumpEvents decouples the correlator from event consumers with an
// unbounded backlog, so a slow consumer can never stall socket reads.
func (c *Conn) pumpEvents() {
	var q []Event
	for {
		var (
			out  chan Event
			next Event
		)
		if len(q) > 0 {
			out = c.events
			next = q[0]
		}

		select {
		case ev := <-c.eventIn:
			q = append(q, ev)
		case out <- next:
			q = q[1:]
		case <-c.done:
			// Best-effort flush, then end the stream.
			for _, ev := range q {
				select {
				case c.events <- ev:
				default:
				}
			}
			close(c.events)
			return
		}
	}
}
