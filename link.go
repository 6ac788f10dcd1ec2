package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Link is the explicit session context a dispatcher owns. It maps the four
// lifecycle actions onto one connection between a local and a remote
// endpoint at a time.
type Link struct {
	cfg    Config
	engine TransportEngine
	tracer *Tracer

	mu    sync.Mutex
	media *MediaStream
	conn  *connection
}

func NewLink(engine TransportEngine, cfg Config, tracer *Tracer) (*Link, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if tracer == nil {
		tracer = NewTracer(nil)
	}
	return &Link{cfg: cfg, engine: engine, tracer: tracer}, nil
}

func (l *Link) Tracer() *Tracer { return l.tracer }

// Begin prepares the local payload source.
func (l *Link) Begin(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cfg.Mode == ModeData {
		l.tracer.Tracef("", "Using SCTP based data channels")
		return nil
	}
	if l.media != nil {
		return nil
	}

	l.tracer.Tracef("", "Requesting local stream.")
	l.media = NewMediaStream(l.cfg.Audio)
	l.tracer.Tracef("", "Received local stream.")
	if t, ok := l.media.Track(TrackKindVideo); ok {
		l.tracer.Tracef("", "Using video device: %s", t.Label)
	}
	if t, ok := l.media.Track(TrackKindAudio); ok {
		l.tracer.Tracef("", "Using audio device: %s", t.Label)
	}
	return nil
}

// Connect creates both endpoints and starts the negotiation. It returns once
// the negotiation is in flight.
func (l *Link) Connect(ctx context.Context) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return ErrAlreadyConnected
	}
	if l.cfg.Mode == ModeMedia && l.media == nil {
		return ErrNoLocalMedia
	}

	c := newConnection(l)
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	l.tracer.Tracef("", "Starting call.")
	for _, ep := range []*Endpoint{c.local, c.remote} {
		err = ep.CreateSession(ctx, l.engine, SessionConfig{ICEServers: l.cfg.ICEServers})
		if err != nil {
			l.tracer.Error(ep.ID(), err)
			return
		}
	}

	switch l.cfg.Mode {
	case ModeMedia:
		if err = c.local.AttachLocalMedia(l.media); err != nil {
			return
		}
	default:
		if c.send, err = c.local.CreateDataChannel(l.cfg.ChannelLabel, l.cfg.Ordered); err != nil {
			return
		}
	}

	if err = c.relay.Bind(c.local, c.remote); err != nil {
		return
	}
	if err = c.relay.Bind(c.remote, c.local); err != nil {
		return
	}
	if c.send != nil {
		c.watchChannel(c.send)
	}
	c.watchEndpoint(c.remote)
	c.watchEndpoint(c.local)

	l.conn = c
	go c.negotiator.Run(c.ctx)
	return
}

// Send delivers payload over the send-side channel.
func (l *Link) Send(payload []byte) error {
	c := l.current()
	if c == nil {
		return ErrNotConnected
	}
	if c.send == nil {
		err := fmt.Errorf("%w: %s mode has no data channel", ErrChannelNotOpen, l.cfg.Mode)
		l.tracer.Error(LocalEndpoint, err)
		return err
	}
	return c.send.Send(payload)
}

// Teardown closes the current connection. It is safe at any point, including
// mid negotiation, and a no-op when nothing is connected.
func (l *Link) Teardown() error {
	l.mu.Lock()
	c := l.conn
	l.conn = nil
	l.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.close()
}

func (l *Link) release(c *connection) {
	l.mu.Lock()
	if l.conn == c {
		l.conn = nil
	}
	l.mu.Unlock()
	c.close()
}

func (l *Link) current() *connection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

// Received streams payloads delivered by the receive-side channel of the
// current connection. It returns nil when not connected.
func (l *Link) Received() <-chan []byte {
	c := l.current()
	if c == nil {
		return nil
	}
	return c.messages.C()
}

// WaitOpen blocks until the connection is usable: both channels open in data
// mode, a remote track announced in media mode.
func (l *Link) WaitOpen(ctx context.Context) error {
	c := l.current()
	if c == nil {
		return ErrNotConnected
	}

	negotiated := c.negotiator.Done()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return ErrLinkClosed
		case <-c.ready:
			return nil
		case <-negotiated:
			if err := c.negotiator.Err(); err != nil {
				return err
			}
			negotiated = nil
		}
	}
}

type EndpointStatus struct {
	Role       Role          `json:"role"`
	State      EndpointState `json:"state"`
	Connection string        `json:"connection,omitempty"`
}

type Status struct {
	Connected        bool                          `json:"connected"`
	Mode             Mode                          `json:"mode"`
	Negotiation      NegotiationState              `json:"negotiation,omitempty"`
	NegotiationError string                        `json:"negotiation_error,omitempty"`
	Endpoints        map[EndpointID]EndpointStatus `json:"endpoints,omitempty"`
	Channels         map[ChannelSide]ChannelState  `json:"channels,omitempty"`
	Relay            map[EndpointID]RelayStats     `json:"relay,omitempty"`
	Received         uint32                        `json:"received"`
}

func (l *Link) Status() Status {
	st := Status{Mode: l.cfg.Mode}
	c := l.current()
	if c == nil {
		return st
	}

	st.Connected = true
	st.Negotiation = c.negotiator.State()
	if err := c.negotiator.Err(); err != nil {
		st.NegotiationError = err.Error()
	}
	st.Endpoints = map[EndpointID]EndpointStatus{}
	for _, ep := range []*Endpoint{c.local, c.remote} {
		st.Endpoints[ep.ID()] = EndpointStatus{Role: ep.Role(), State: ep.State(), Connection: ep.ConnectionState()}
	}
	st.Channels = map[ChannelSide]ChannelState{}
	if c.send != nil {
		st.Channels[ChannelSideSend] = c.send.State()
	}
	if rc := c.receiveChannel(); rc != nil {
		st.Channels[ChannelSideReceive] = rc.State()
	}
	st.Relay = c.relay.Stats()
	st.Received = c.received.Load()
	return st
}

// connection is one connect/teardown cycle. Anything it observes after close
// is stale and dropped.
type connection struct {
	link    *Link
	tracer  *Tracer
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc

	local      *Endpoint
	remote     *Endpoint
	negotiator *Negotiator
	relay      *IceRelay
	send       *Channel
	messages   *eventQueue[[]byte]
	received   atomic.Uint32

	mu      sync.Mutex
	receive *Channel
	tracks  int

	closing   atomic.Bool
	closed    chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
	setupOnce sync.Once
}

func newConnection(l *Link) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		link:     l,
		tracer:   l.tracer,
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		local:    NewEndpoint(LocalEndpoint, RoleOfferer, l.tracer),
		remote:   NewEndpoint(RemoteEndpoint, RoleAnswerer, l.tracer),
		messages: newEventQueue[[]byte](),
		closed:   make(chan struct{}),
		ready:    make(chan struct{}),
	}
	c.relay = NewIceRelay(ctx, l.tracer)
	c.negotiator = NewNegotiator(c.local, c.remote, l.cfg.offerOptions(), l.cfg.NegotiationTimeout, l.tracer)
	return c
}

func (c *connection) receiveChannel() *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receive
}

// watchEndpoint consumes the channel and track notifications of ep.
func (c *connection) watchEndpoint(ep *Endpoint) {
	go func() {
		for {
			select {
			case <-c.ctx.Done():
				return

			case ch, ok := <-ep.ReceivedChannels():
				if !ok {
					return
				}
				c.mu.Lock()
				if c.receive == nil {
					c.receive = ch
				}
				c.mu.Unlock()
				c.watchChannel(ch)
				go c.pipe(ch)

			case _, ok := <-ep.Tracks():
				if !ok {
					return
				}
				if ep.ID() != RemoteEndpoint {
					continue
				}
				c.mu.Lock()
				c.tracks++
				c.mu.Unlock()
				c.setupComplete()
				c.checkReady()
			}
		}
	}()
}

// watchChannel mirrors a caller-initiated close into a full teardown and
// tracks readiness.
func (c *connection) watchChannel(ch *Channel) {
	ch.OnClose(func() { c.link.release(c) })

	states, stop := ch.Subscribe()
	go func() {
		defer stop()
		if ch.State() == ChannelOpen {
			c.setupComplete()
			c.checkReady()
		}
		for {
			select {
			case <-c.ctx.Done():
				return
			case s := <-states:
				switch s {
				case ChannelOpen:
					c.setupComplete()
					c.checkReady()
				case ChannelClosed:
					return
				}
			}
		}
	}()
}

func (c *connection) pipe(ch *Channel) {
	for data := range ch.Messages() {
		c.received.Add(1)
		c.messages.push(data)
	}
}

func (c *connection) setupComplete() {
	c.setupOnce.Do(func() {
		elapsed := time.Since(c.started)
		c.tracer.Tracef("", "Setup time: %.3fms.", float64(elapsed.Microseconds())/1000)
	})
}

func (c *connection) checkReady() {
	ok := false
	switch c.link.cfg.Mode {
	case ModeMedia:
		c.mu.Lock()
		ok = c.tracks > 0
		c.mu.Unlock()
	default:
		rc := c.receiveChannel()
		ok = c.send != nil && c.send.State() == ChannelOpen && rc != nil && rc.State() == ChannelOpen
	}
	if ok {
		c.readyOnce.Do(func() { close(c.ready) })
	}
}

func (c *connection) close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	defer close(c.closed)

	var merr *multierror.Error
	for _, ep := range []*Endpoint{c.local, c.remote} {
		if err := ep.Close(); err != nil && !errors.Is(err, ErrEndpointClosed) {
			merr = multierror.Append(merr, err)
		}
	}
	c.relay.Close()
	c.messages.close()

	c.tracer.Tracef("", "Ending call.")
	return merr.ErrorOrNil()
}
