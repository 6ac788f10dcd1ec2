package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	errMemorySessionClosed   = errors.New("session closed")
	errMemoryNoRemote        = errors.New("remote description not set")
	errMemoryMalformed       = errors.New("malformed session description")
	errMemoryWrongState      = errors.New("description does not fit signaling state")
	errMemoryRejected        = errors.New("rejected by engine")
	errMemoryChannelNotReady = errors.New("memory channel not open")
)

// MemoryFaults injects failures into the sessions of one endpoint.
type MemoryFaults struct {
	RejectLocalDescription  bool
	RejectRemoteDescription bool
	RejectCandidates        bool

	// Hold blocks description calls until it is closed or the call's
	// context is done.
	Hold <-chan struct{}
}

// MemoryEngine is an in-process transport engine. Sessions pair through
// their description payloads; a pair connects once both sides hold both
// descriptions and, when candidates are emitted, at least one remote
// candidate each.
type MemoryEngine struct {
	Unavailable bool
	// Candidates is the number of candidates each session discovers after
	// its local description is set.
	Candidates int
	Faults     map[EndpointID]MemoryFaults

	mu       sync.Mutex
	seq      int
	sessions map[string]*memorySession
}

var _ TransportEngine = &MemoryEngine{}

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		Candidates: 1,
		Faults:     map[EndpointID]MemoryFaults{},
		sessions:   map[string]*memorySession{},
	}
}

func (e *MemoryEngine) NewSession(ctx context.Context, cfg SessionConfig) (TransportSession, error) {
	if e.Unavailable {
		return nil, ErrTransportUnavailable
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sessions == nil {
		e.sessions = map[string]*memorySession{}
	}
	e.seq++
	s := &memorySession{
		engine:     e,
		id:         fmt.Sprintf("mem-%d", e.seq),
		endpoint:   cfg.Endpoint,
		faults:     e.Faults[cfg.Endpoint],
		events:     newEventQueue[TransportEvent](),
		candidates: map[string]struct{}{},
	}
	e.sessions[s.id] = s
	return s, nil
}

type memorySession struct {
	engine   *MemoryEngine
	id       string
	endpoint EndpointID
	faults   MemoryFaults
	events   *eventQueue[TransportEvent]

	local      *SessionDescription
	remote     *SessionDescription
	peer       string
	candidates map[string]struct{}
	candSeq    int
	channels   []*memoryChannel
	received   []*memoryChannel
	tracks     []MediaTrack
	connected  bool
	closed     bool
}

func memorySDP(id string, t SDPType) string {
	return fmt.Sprintf("v=0\r\no=- %s 0 IN IP4 127.0.0.1\r\ns=peerloop-memory\r\na=type:%s\r\n", id, t)
}

func parseMemorySDP(sdp string) (id string, err error) {
	for _, line := range strings.Split(sdp, "\r\n") {
		if !strings.HasPrefix(line, "o=- ") {
			continue
		}
		f := strings.Fields(line)
		if len(f) < 2 || !strings.HasPrefix(f[1], "mem-") {
			break
		}
		return f[1], nil
	}
	return "", errMemoryMalformed
}

func (s *memorySession) CreateOffer(ctx context.Context, opts OfferOptions) (d SessionDescription, err error) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()

	if s.closed {
		return d, errMemorySessionClosed
	}
	return SessionDescription{Type: SDPTypeOffer, SDP: memorySDP(s.id, SDPTypeOffer)}, nil
}

func (s *memorySession) CreateAnswer(ctx context.Context) (d SessionDescription, err error) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()

	if s.closed {
		return d, errMemorySessionClosed
	}
	if s.remote == nil || s.remote.Type != SDPTypeOffer {
		return d, errMemoryWrongState
	}
	return SessionDescription{Type: SDPTypeAnswer, SDP: memorySDP(s.id, SDPTypeAnswer)}, nil
}

func (s *memorySession) hold(ctx context.Context) error {
	if s.faults.Hold == nil {
		return nil
	}
	select {
	case <-s.faults.Hold:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *memorySession) SetLocalDescription(ctx context.Context, d SessionDescription) (err error) {
	if err = s.hold(ctx); err != nil {
		return
	}

	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()

	switch {
	case s.closed:
		return errMemorySessionClosed
	case s.faults.RejectLocalDescription:
		return errMemoryRejected
	case s.local != nil:
		return errMemoryWrongState
	case d.Type == SDPTypeAnswer && (s.remote == nil || s.remote.Type != SDPTypeOffer):
		return errMemoryWrongState
	}
	if id, err := parseMemorySDP(d.SDP); err != nil || id != s.id {
		return errMemoryMalformed
	}

	s.local = &d
	for i := 0; i < s.engine.Candidates; i++ {
		s.candSeq++
		s.events.push(CandidateDiscovered{Candidate: ICECandidate{
			Payload: fmt.Sprintf("candidate:%s-%d 1 udp 2130706431 127.0.0.1 %d typ host", s.id, s.candSeq, 50000+s.candSeq),
		}})
	}
	s.events.push(GatheringComplete{})
	s.engine.tryConnectLocked(s)
	return
}

func (s *memorySession) SetRemoteDescription(ctx context.Context, d SessionDescription) (err error) {
	if err = s.hold(ctx); err != nil {
		return
	}

	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()

	switch {
	case s.closed:
		return errMemorySessionClosed
	case s.faults.RejectRemoteDescription:
		return errMemoryRejected
	case s.remote != nil:
		return errMemoryWrongState
	case d.Type == SDPTypeAnswer && (s.local == nil || s.local.Type != SDPTypeOffer):
		return errMemoryWrongState
	}
	id, err := parseMemorySDP(d.SDP)
	if err != nil || id == s.id {
		return errMemoryMalformed
	}
	if _, ok := s.engine.sessions[id]; !ok {
		return fmt.Errorf("unknown peer session %s: %w", id, errMemoryMalformed)
	}

	s.remote = &d
	s.peer = id
	s.engine.tryConnectLocked(s)
	return
}

func (s *memorySession) AddICECandidate(ctx context.Context, c ICECandidate) error {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()

	switch {
	case s.closed:
		return errMemorySessionClosed
	case s.faults.RejectCandidates:
		return errMemoryRejected
	case s.remote == nil:
		return errMemoryNoRemote
	case !strings.HasPrefix(c.Payload, "candidate:"):
		return fmt.Errorf("malformed candidate %q", c.Payload)
	case strings.HasPrefix(c.Payload, "candidate:"+s.id+"-"):
		return fmt.Errorf("candidate %q originates from this session", c.Payload)
	}

	s.candidates[c.Payload] = struct{}{}
	s.engine.tryConnectLocked(s)
	return nil
}

func (s *memorySession) CreateDataChannel(label string, ordered bool) (TransportChannel, error) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()

	if s.closed {
		return nil, errMemorySessionClosed
	}
	ch := &memoryChannel{session: s, label: label}
	s.channels = append(s.channels, ch)
	return ch, nil
}

func (s *memorySession) AddTrack(track MediaTrack) error {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()

	if s.closed {
		return errMemorySessionClosed
	}
	s.tracks = append(s.tracks, track)
	return nil
}

func (s *memorySession) Events() <-chan TransportEvent {
	return s.events.C()
}

func (s *memorySession) Close() error {
	s.engine.mu.Lock()
	if s.closed {
		s.engine.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, ch := range append(append([]*memoryChannel(nil), s.channels...), s.received...) {
		ch.closeLocked()
	}
	if p := s.engine.sessions[s.peer]; p != nil && p.connected && !p.closed {
		p.events.push(ICEStateChanged{State: "disconnected"})
		p.events.push(ConnectionStateChanged{State: "disconnected"})
	}
	delete(s.engine.sessions, s.id)
	s.engine.mu.Unlock()

	s.events.close()
	return nil
}

func (e *MemoryEngine) tryConnectLocked(s *memorySession) {
	if s.connected || s.closed || s.local == nil || s.remote == nil {
		return
	}
	p := e.sessions[s.peer]
	if p == nil || p.closed || p.connected || p.local == nil || p.remote == nil || p.peer != s.id {
		return
	}
	if e.Candidates > 0 && (len(s.candidates) == 0 || len(p.candidates) == 0) {
		return
	}

	pair := [2]*memorySession{s, p}
	for _, x := range pair {
		x.connected = true
		x.events.push(ICEStateChanged{State: "connected"})
		x.events.push(ConnectionStateChanged{State: "connected"})
	}
	for i, x := range pair {
		y := pair[1-i]
		for _, ch := range x.channels {
			rc := &memoryChannel{session: y, label: ch.label, peer: ch}
			ch.peer = rc
			y.received = append(y.received, rc)
			y.events.push(ChannelReceived{Channel: rc})
		}
		for _, t := range x.tracks {
			y.events.push(TrackReceived{ID: t.ID, Kind: t.Kind})
		}
	}
	for _, x := range pair {
		for _, ch := range append(append([]*memoryChannel(nil), x.channels...), x.received...) {
			ch.open = true
			x.events.push(ChannelOpened{Channel: ch})
		}
	}
}

type memoryChannel struct {
	session *memorySession
	label   string
	peer    *memoryChannel
	open    bool
	closed  bool
	sent    int
}

func (ch *memoryChannel) Label() string { return ch.label }

func (ch *memoryChannel) Send(payload []byte) error {
	ch.session.engine.mu.Lock()
	defer ch.session.engine.mu.Unlock()

	if !ch.open || ch.closed || ch.peer == nil {
		return errMemoryChannelNotReady
	}
	ch.sent++
	ch.peer.session.events.push(ChannelMessage{Channel: ch.peer, Data: append([]byte(nil), payload...)})
	return nil
}

func (ch *memoryChannel) Close() error {
	ch.session.engine.mu.Lock()
	defer ch.session.engine.mu.Unlock()
	ch.closeLocked()
	return nil
}

func (ch *memoryChannel) Sent() int {
	ch.session.engine.mu.Lock()
	defer ch.session.engine.mu.Unlock()
	return ch.sent
}

func (ch *memoryChannel) closeLocked() {
	if ch.closed {
		return
	}
	ch.closed = true
	ch.session.events.push(ChannelClosedEvent{Channel: ch})
	if p := ch.peer; p != nil && !p.closed {
		p.closed = true
		p.session.events.push(ChannelClosedEvent{Channel: p})
	}
}
