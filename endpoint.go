package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

type EndpointID string

const (
	LocalEndpoint  EndpointID = "local"
	RemoteEndpoint EndpointID = "remote"
)

func (id EndpointID) Peer() EndpointID {
	if id == LocalEndpoint {
		return RemoteEndpoint
	}
	return LocalEndpoint
}

type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

type EndpointState string

const (
	EndpointIdle            EndpointState = "idle"
	EndpointHaveLocalOffer  EndpointState = "have-local-offer"
	EndpointHaveRemoteOffer EndpointState = "have-remote-offer"
	EndpointStable          EndpointState = "stable"
	EndpointFailed          EndpointState = "failed"
	EndpointClosed          EndpointState = "closed"
)

// Endpoint is one side of the pair. It owns at most one transport session and
// turns the session's push notifications into typed streams.
type Endpoint struct {
	id     EndpointID
	role   Role
	tracer *Tracer

	mu          sync.Mutex
	session     TransportSession
	state       EndpointState
	localType   SDPType
	remoteType  SDPType
	channel     *Channel
	channels    map[TransportChannel]*Channel
	released    bool
	closed      bool
	connState   string
	remoteReady chan struct{}

	candidates *eventQueue[ICECandidate]
	received   *eventQueue[*Channel]
	tracks     *eventQueue[TrackReceived]
}

func NewEndpoint(id EndpointID, role Role, tracer *Tracer) *Endpoint {
	return &Endpoint{
		id:          id,
		role:        role,
		tracer:      tracer,
		state:       EndpointIdle,
		channels:    map[TransportChannel]*Channel{},
		remoteReady: make(chan struct{}),
		candidates:  newEventQueue[ICECandidate](),
		received:    newEventQueue[*Channel](),
		tracks:      newEventQueue[TrackReceived](),
	}
}

func (ep *Endpoint) ID() EndpointID { return ep.id }
func (ep *Endpoint) Role() Role     { return ep.role }

func (ep *Endpoint) State() EndpointState {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.state
}

func (ep *Endpoint) ConnectionState() string {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.connState
}

// Channel returns the channel associated with this endpoint, if any.
func (ep *Endpoint) Channel() *Channel {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.channel
}

// Candidates streams the ICE candidates discovered by this endpoint's session.
func (ep *Endpoint) Candidates() <-chan ICECandidate { return ep.candidates.C() }

// ReceivedChannels streams channels announced by the peer.
func (ep *Endpoint) ReceivedChannels() <-chan *Channel { return ep.received.C() }

func (ep *Endpoint) Tracks() <-chan TrackReceived { return ep.tracks.C() }

// RemoteDescriptionSet is closed once a remote description has been applied.
func (ep *Endpoint) RemoteDescriptionSet() <-chan struct{} { return ep.remoteReady }

func (ep *Endpoint) CreateSession(ctx context.Context, engine TransportEngine, cfg SessionConfig) (err error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.closed {
		return ErrEndpointClosed
	}
	if ep.session != nil {
		return fmt.Errorf("%s: endpoint already holds a transport session", ep.id)
	}

	cfg.Endpoint = ep.id
	s, err := engine.NewSession(ctx, cfg)
	if err != nil {
		ep.state = EndpointFailed
		return &SessionCreationError{Endpoint: ep.id, Err: err}
	}
	ep.session = s
	ep.tracer.Tracef(ep.id, "Created %s peer connection object", ep.id)

	go ep.pump(s)
	return
}

func (ep *Endpoint) AttachLocalMedia(ms *MediaStream) (err error) {
	s, err := ep.idleSession()
	if err != nil {
		return
	}

	for _, t := range ms.Tracks {
		if err = s.AddTrack(t); err != nil {
			return fmt.Errorf("%s: add %s track failed: %w", ep.id, t.Kind, err)
		}
		ep.tracer.Tracef(ep.id, "Using %s device: %s", t.Kind, t.Label)
	}
	ep.tracer.Tracef(ep.id, "Added local stream to %s", ep.id)
	return
}

func (ep *Endpoint) CreateDataChannel(label string, ordered bool) (ch *Channel, err error) {
	s, err := ep.idleSession()
	if err != nil {
		return
	}

	tc, err := s.CreateDataChannel(label, ordered)
	if err != nil {
		return nil, fmt.Errorf("%s: create data channel failed: %w", ep.id, err)
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		tc.Close()
		return nil, ErrEndpointClosed
	}
	ch = newChannel(ChannelSideSend, ep.id, tc, ep.tracer, !ep.released)
	ep.channels[tc] = ch
	ep.channel = ch
	ep.tracer.Tracef(ep.id, "Created send data channel")
	return
}

func (ep *Endpoint) CreateOffer(ctx context.Context, opts OfferOptions) (SessionDescription, error) {
	return ep.createDescription(ctx, SDPTypeOffer, func(s TransportSession) (SessionDescription, error) {
		return s.CreateOffer(ctx, opts)
	})
}

func (ep *Endpoint) CreateAnswer(ctx context.Context) (SessionDescription, error) {
	return ep.createDescription(ctx, SDPTypeAnswer, func(s TransportSession) (SessionDescription, error) {
		return s.CreateAnswer(ctx)
	})
}

func (ep *Endpoint) createDescription(ctx context.Context, t SDPType, fn func(TransportSession) (SessionDescription, error)) (d SessionDescription, err error) {
	s, err := ep.activeSession()
	if err != nil {
		return
	}
	ep.tracer.Tracef(ep.id, "%s create %s start", ep.id, t)

	d, err = fn(s)

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		return d, ErrEndpointClosed
	}
	if err != nil {
		ep.state = EndpointFailed
		return d, &DescriptionRejectedError{Endpoint: ep.id, Op: "create " + string(t), Type: t, Err: err}
	}
	ep.tracer.Tracef(ep.id, "%s from %s:\n%s", capitalize(string(t)), ep.id, d.SDP)
	return
}

func (ep *Endpoint) SetLocalDescription(ctx context.Context, d SessionDescription) error {
	return ep.setDescription(ctx, d, true)
}

func (ep *Endpoint) SetRemoteDescription(ctx context.Context, d SessionDescription) error {
	return ep.setDescription(ctx, d, false)
}

func (ep *Endpoint) setDescription(ctx context.Context, d SessionDescription, local bool) (err error) {
	op := "setRemoteDescription"
	if local {
		op = "setLocalDescription"
	}

	s, err := ep.activeSession()
	if err != nil {
		return
	}
	ep.tracer.Tracef(ep.id, "%s %s start", ep.id, op)

	if local {
		err = s.SetLocalDescription(ctx, d)
	} else {
		err = s.SetRemoteDescription(ctx, d)
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		return ErrEndpointClosed
	}
	if err != nil {
		ep.state = EndpointFailed
		return &DescriptionRejectedError{Endpoint: ep.id, Op: op, Type: d.Type, Err: err}
	}
	if local {
		ep.localType = d.Type
	} else {
		if ep.remoteType == "" {
			close(ep.remoteReady)
		}
		ep.remoteType = d.Type
	}
	if ep.state != EndpointFailed {
		ep.updateStateLocked()
	}
	ep.tracer.Tracef(ep.id, "%s %s complete", ep.id, op)
	return
}

func (ep *Endpoint) updateStateLocked() {
	switch {
	case ep.localType != "" && ep.remoteType != "":
		ep.state = EndpointStable
	case ep.localType == SDPTypeOffer:
		ep.state = EndpointHaveLocalOffer
	case ep.remoteType == SDPTypeOffer:
		ep.state = EndpointHaveRemoteOffer
	}
}

func (ep *Endpoint) AddICECandidate(ctx context.Context, c ICECandidate) (err error) {
	s, err := ep.activeSession()
	if err != nil {
		return
	}

	err = s.AddICECandidate(ctx, c)

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		return ErrEndpointClosed
	}
	if err != nil {
		return &CandidateRejectedError{Endpoint: ep.id, Candidate: c, Err: err}
	}
	return
}

// release lifts the open gate of every current and future channel.
func (ep *Endpoint) release() {
	ep.mu.Lock()
	ep.released = true
	chs := make([]*Channel, 0, len(ep.channels))
	for _, ch := range ep.channels {
		chs = append(chs, ch)
	}
	ep.mu.Unlock()

	for _, ch := range chs {
		ch.release()
	}
}

func (ep *Endpoint) Close() error {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return nil
	}
	ep.closed = true
	ep.state = EndpointClosed
	s := ep.session
	chs := make([]*Channel, 0, len(ep.channels))
	for _, ch := range ep.channels {
		chs = append(chs, ch)
	}
	ep.mu.Unlock()

	var merr *multierror.Error
	for _, ch := range chs {
		if err := ch.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if s != nil {
		if err := s.Close(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: close session failed: %w", ep.id, err))
		}
	}
	ep.candidates.close()
	ep.received.close()
	ep.tracks.close()

	ep.tracer.Tracef(ep.id, "Closed %s peer connection object", ep.id)
	return merr.ErrorOrNil()
}

func (ep *Endpoint) activeSession() (TransportSession, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.closed {
		return nil, ErrEndpointClosed
	}
	if ep.session == nil {
		return nil, fmt.Errorf("%s: endpoint has no transport session", ep.id)
	}
	return ep.session, nil
}

func (ep *Endpoint) idleSession() (TransportSession, error) {
	s, err := ep.activeSession()
	if err != nil {
		return nil, err
	}
	if st := ep.State(); st != EndpointIdle {
		return nil, fmt.Errorf("%s: endpoint is %s, expected %s", ep.id, st, EndpointIdle)
	}
	return s, nil
}

func (ep *Endpoint) pump(s TransportSession) {
	for ev := range s.Events() {
		ep.handle(ev)
	}
}

// handle applies one push notification. Notifications arriving after Close
// are stale and dropped.
func (ep *Endpoint) handle(ev TransportEvent) {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return
	}

	var ch *Channel
	switch e := ev.(type) {
	case ChannelReceived:
		ch = newChannel(ChannelSideReceive, ep.id, e.Channel, ep.tracer, !ep.released)
		ep.channels[e.Channel] = ch
		if ep.channel == nil {
			ep.channel = ch
		}
	case ChannelOpened:
		ch = ep.channels[e.Channel]
	case ChannelClosedEvent:
		ch = ep.channels[e.Channel]
	case ChannelMessage:
		ch = ep.channels[e.Channel]
	case ConnectionStateChanged:
		ep.connState = e.State
	}
	ep.mu.Unlock()

	switch e := ev.(type) {
	case CandidateDiscovered:
		c := e.Candidate
		c.Origin = ep.id
		ep.tracer.Debugf(ep.id, "%s ice callback:\n%s", ep.id, c.Payload)
		ep.candidates.push(c)

	case GatheringComplete:
		ep.tracer.Debugf(ep.id, "%s ICE gathering complete", ep.id)

	case ChannelReceived:
		ep.tracer.Tracef(ep.id, "Receive Channel Callback: %s", e.Channel.Label())
		ep.received.push(ch)

	case ChannelOpened:
		if ch != nil {
			ch.transportOpened()
		}

	case ChannelClosedEvent:
		if ch != nil {
			ch.transportClosed()
		}

	case ChannelMessage:
		if ch != nil {
			ch.deliver(e.Data)
		}

	case ConnectionStateChanged:
		ep.tracer.Tracef(ep.id, "%s connection state: %s", ep.id, e.State)

	case ICEStateChanged:
		ep.tracer.Tracef(ep.id, "%s ICE state: %s", ep.id, e.State)

	case TrackReceived:
		ep.tracer.Tracef(ep.id, "Received remote %s stream from %s peer connection", e.Kind, ep.id.Peer())
		ep.tracks.push(e)
	}
}
