package tc

import (
	"context"
	"fmt"

	"github.com/scitags/nlkit"
	"github.com/scitags/nlkit/nlmsg"
)

// A Client speaks the traffic-control half of rtnetlink: qdiscs,
// classes and filters. It is safe for concurrent use.
type Client struct {
	conn *nlkit.Conn
}

// Open dials a new rtnetlink connection for the client.
func Open(ctx context.Context, cfg *nlkit.Config) (*Client, error) {
	conn, err := nlkit.Dial(ctx, nlkit.Route(), cfg)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing rtnetlink connection. The caller keeps
// ownership; Close still closes it.
func NewClient(conn *nlkit.Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) request(ctx context.Context, typ, flags uint16, data []byte) error {
	_, err := c.conn.Execute(ctx, typ, flags, data)
	return err
}

// AddQdisc installs a qdisc, failing if one already occupies its slot.
func (c *Client) AddQdisc(ctx context.Context, q *Qdisc) error {
	data, err := q.marshal()
	if err != nil {
		return err
	}
	return c.request(ctx, rtmNewQdisc, nlmsg.FlagCreate|nlmsg.FlagExcl, data)
}

// ReplaceQdisc installs a qdisc, displacing whatever occupies its slot.
func (c *Client) ReplaceQdisc(ctx context.Context, q *Qdisc) error {
	data, err := q.marshal()
	if err != nil {
		return err
	}
	return c.request(ctx, rtmNewQdisc, nlmsg.FlagCreate|nlmsg.FlagReplace, data)
}

// DeleteQdisc removes the qdisc addressed by q's interface, handle and
// parent; Options are not needed.
func (c *Client) DeleteQdisc(ctx context.Context, q *Qdisc) error {
	data, err := q.marshal()
	if err != nil {
		return err
	}
	return c.request(ctx, rtmDelQdisc, 0, data)
}

// Qdiscs dumps every qdisc on every interface.
func (c *Client) Qdiscs(ctx context.Context) ([]Qdisc, error) {
	msgs, err := c.conn.ExecuteDump(ctx, rtmGetQdisc, Msg{}.marshal())
	if err != nil {
		return nil, err
	}

	qdiscs := make([]Qdisc, 0, len(msgs))
	for _, m := range msgs {
		q, err := decodeQdisc(m.Data)
		if err != nil {
			return nil, err
		}
		qdiscs = append(qdiscs, q)
	}
	return qdiscs, nil
}

// AddClass installs a class, failing if its handle is taken.
func (c *Client) AddClass(ctx context.Context, cl *Class) error {
	data, err := cl.marshal()
	if err != nil {
		return err
	}
	return c.request(ctx, rtmNewClass, nlmsg.FlagCreate|nlmsg.FlagExcl, data)
}

// ChangeClass reconfigures an existing class in place.
func (c *Client) ChangeClass(ctx context.Context, cl *Class) error {
	data, err := cl.marshal()
	if err != nil {
		return err
	}
	return c.request(ctx, rtmNewClass, 0, data)
}

// DeleteClass removes the class addressed by cl's interface and handle.
func (c *Client) DeleteClass(ctx context.Context, cl *Class) error {
	data, err := cl.marshal()
	if err != nil {
		return err
	}
	return c.request(ctx, rtmDelClass, 0, data)
}

// Classes dumps the classes on one interface.
func (c *Client) Classes(ctx context.Context, ifindex int32) ([]Class, error) {
	msgs, err := c.conn.ExecuteDump(ctx, rtmGetClass, Msg{Ifindex: ifindex}.marshal())
	if err != nil {
		return nil, err
	}

	classes := make([]Class, 0, len(msgs))
	for _, m := range msgs {
		cl, err := decodeClass(m.Data)
		if err != nil {
			return nil, err
		}
		classes = append(classes, cl)
	}
	return classes, nil
}

// AddFilter installs a filter, failing if its slot is taken.
func (c *Client) AddFilter(ctx context.Context, f *Filter) error {
	data, err := f.marshal()
	if err != nil {
		return err
	}
	return c.request(ctx, rtmNewFilter, nlmsg.FlagCreate|nlmsg.FlagExcl, data)
}

// ReplaceFilter installs a filter, displacing whatever occupies its
// slot.
func (c *Client) ReplaceFilter(ctx context.Context, f *Filter) error {
	data, err := f.marshal()
	if err != nil {
		return err
	}
	return c.request(ctx, rtmNewFilter, nlmsg.FlagCreate|nlmsg.FlagReplace, data)
}

// DeleteFilter removes the filter addressed by f's interface, parent,
// priority and handle.
func (c *Client) DeleteFilter(ctx context.Context, f *Filter) error {
	data, err := f.marshal()
	if err != nil {
		return err
	}
	return c.request(ctx, rtmDelFilter, 0, data)
}

// Filters dumps the filters attached to one parent on one interface.
func (c *Client) Filters(ctx context.Context, ifindex int32, parent uint32) ([]Filter, error) {
	msgs, err := c.conn.ExecuteDump(ctx, rtmGetFilter, Msg{Ifindex: ifindex, Parent: parent}.marshal())
	if err != nil {
		return nil, err
	}

	filters := make([]Filter, 0, len(msgs))
	for _, m := range msgs {
		f, err := decodeFilter(m.Data)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// Monitor subscribes the connection to traffic-control change
// notifications and returns the event stream. The stream carries every
// group the connection is subscribed to, not only this one.
func (c *Client) Monitor() (<-chan nlkit.Event, error) {
	if err := c.conn.Subscribe(groupTC); err != nil {
		return nil, err
	}
	return c.conn.Events(), nil
}

// An Update is one decoded change notification from Monitor.
type Update struct {
	Deleted bool

	// Exactly one of these is set, matching the message type.
	Qdisc  *Qdisc
	Class  *Class
	Filter *Filter
}

// DecodeUpdate decodes one monitor message. Messages that are not
// traffic-control notifications are an error; callers multiplexing
// several subscriptions should switch on the header type first.
func DecodeUpdate(m nlmsg.Message) (Update, error) {
	var u Update
	switch m.Header.Type {
	case rtmNewQdisc, rtmDelQdisc:
		q, err := decodeQdisc(m.Data)
		if err != nil {
			return Update{}, err
		}
		u.Qdisc = &q
		u.Deleted = m.Header.Type == rtmDelQdisc
	case rtmNewClass, rtmDelClass:
		cl, err := decodeClass(m.Data)
		if err != nil {
			return Update{}, err
		}
		u.Class = &cl
		u.Deleted = m.Header.Type == rtmDelClass
	case rtmNewFilter, rtmDelFilter:
		f, err := decodeFilter(m.Data)
		if err != nil {
			return Update{}, err
		}
		u.Filter = &f
		u.Deleted = m.Header.Type == rtmDelFilter
	default:
		return Update{}, fmt.Errorf("tc: message type %d is not a traffic-control notification", m.Header.Type)
	}
	return u, nil
}
