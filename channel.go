package main

import (
	"fmt"
	"sync"
)

type ChannelSide string

const (
	ChannelSideSend    ChannelSide = "send"
	ChannelSideReceive ChannelSide = "receive"
)

type ChannelState string

const (
	ChannelConnecting ChannelState = "connecting"
	ChannelOpen       ChannelState = "open"
	ChannelClosed     ChannelState = "closed"
)

// Channel is the logical data pipe layered on a negotiated session. It stays
// connecting until both the transport reports it open and the negotiation
// has been released as stable.
type Channel struct {
	side     ChannelSide
	endpoint EndpointID
	tc       TransportChannel
	tracer   *Tracer

	mu          sync.Mutex
	state       ChannelState
	gated       bool
	pendingOpen bool
	subs        map[*eventQueue[ChannelState]]struct{}
	messages    *eventQueue[[]byte]
	onClose     func()
}

func newChannel(side ChannelSide, ep EndpointID, tc TransportChannel, tracer *Tracer, gated bool) *Channel {
	return &Channel{
		side:     side,
		endpoint: ep,
		tc:       tc,
		tracer:   tracer,
		state:    ChannelConnecting,
		gated:    gated,
		subs:     map[*eventQueue[ChannelState]]struct{}{},
		messages: newEventQueue[[]byte](),
	}
}

func (c *Channel) Label() string        { return c.tc.Label() }
func (c *Channel) Side() ChannelSide     { return c.side }
func (c *Channel) Endpoint() EndpointID { return c.endpoint }

func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe streams state changes from now on until the returned func is called.
func (c *Channel) Subscribe() (<-chan ChannelState, func()) {
	q := newEventQueue[ChannelState]()

	c.mu.Lock()
	c.subs[q] = struct{}{}
	c.mu.Unlock()

	return q.C(), func() {
		c.mu.Lock()
		delete(c.subs, q)
		c.mu.Unlock()
		q.close()
	}
}

// Messages delivers payloads received on this channel. It is closed when the
// channel closes.
func (c *Channel) Messages() <-chan []byte {
	return c.messages.C()
}

// OnClose registers a hook run once when Close transitions the channel.
func (c *Channel) OnClose(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = f
}

func (c *Channel) Send(payload []byte) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != ChannelOpen {
		err := &ChannelNotOpenError{Endpoint: c.endpoint, Side: c.side, State: state}
		c.tracer.Error(c.endpoint, err)
		return err
	}

	if err := c.tc.Send(payload); err != nil {
		return fmt.Errorf("send on %s channel failed: %w", c.side, err)
	}
	c.tracer.Tracef(c.endpoint, "Send data: %s", payload)
	return nil
}

func (c *Channel) Close() (err error) {
	c.mu.Lock()
	if c.state == ChannelClosed {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(ChannelClosed)
	hook := c.onClose
	c.mu.Unlock()

	c.messages.close()
	if errc := c.tc.Close(); errc != nil {
		err = fmt.Errorf("close %s channel failed: %w", c.side, errc)
	}
	if hook != nil {
		hook()
	}
	return
}

func (c *Channel) transportOpened() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != ChannelConnecting {
		return
	}
	if c.gated {
		c.pendingOpen = true
		c.tracer.Debugf(c.endpoint, "%s channel transport open, waiting for stable negotiation", c.side)
		return
	}
	c.setStateLocked(ChannelOpen)
}

func (c *Channel) transportClosed() {
	c.mu.Lock()
	if c.state == ChannelClosed {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(ChannelClosed)
	c.mu.Unlock()

	c.messages.close()
}

func (c *Channel) deliver(data []byte) {
	c.mu.Lock()
	closed := c.state == ChannelClosed
	c.mu.Unlock()
	if closed {
		return
	}

	c.tracer.Tracef(c.endpoint, "Received Message")
	c.messages.push(data)
}

// release lifts the negotiation gate.
func (c *Channel) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gated = false
	if c.pendingOpen && c.state == ChannelConnecting {
		c.setStateLocked(ChannelOpen)
	}
	c.pendingOpen = false
}

func (c *Channel) setStateLocked(s ChannelState) {
	c.state = s
	switch c.side {
	case ChannelSideSend:
		c.tracer.Tracef(c.endpoint, "Send channel state is: %s", s)
	default:
		c.tracer.Tracef(c.endpoint, "Receive channel state is: %s", s)
	}
	for q := range c.subs {
		q.push(s)
	}
}
