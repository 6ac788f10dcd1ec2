package main

import (
	"context"
	"errors"
	"sync"
)

var errStubRejected = errors.New("stub rejected")

// stubEngine hands out pre-built sessions so tests can feed synthetic events.
type stubEngine struct {
	sessions map[EndpointID]*stubSession
}

func newStubEngine() *stubEngine {
	return &stubEngine{sessions: map[EndpointID]*stubSession{
		LocalEndpoint:  newStubSession(),
		RemoteEndpoint: newStubSession(),
	}}
}

func (e *stubEngine) NewSession(ctx context.Context, cfg SessionConfig) (TransportSession, error) {
	s, ok := e.sessions[cfg.Endpoint]
	if !ok {
		return nil, ErrTransportUnavailable
	}
	return s, nil
}

type stubSession struct {
	events *eventQueue[TransportEvent]

	mu               sync.Mutex
	added            []ICECandidate
	rejectCandidates bool
	closed           bool
}

func newStubSession() *stubSession {
	return &stubSession{events: newEventQueue[TransportEvent]()}
}

func (s *stubSession) emit(ev TransportEvent) { s.events.push(ev) }

func (s *stubSession) Added() []ICECandidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ICECandidate(nil), s.added...)
}

func (s *stubSession) CreateOffer(ctx context.Context, opts OfferOptions) (SessionDescription, error) {
	return SessionDescription{Type: SDPTypeOffer, SDP: "stub offer"}, nil
}

func (s *stubSession) CreateAnswer(ctx context.Context) (SessionDescription, error) {
	return SessionDescription{Type: SDPTypeAnswer, SDP: "stub answer"}, nil
}

func (s *stubSession) SetLocalDescription(ctx context.Context, d SessionDescription) error {
	return nil
}

func (s *stubSession) SetRemoteDescription(ctx context.Context, d SessionDescription) error {
	return nil
}

func (s *stubSession) AddICECandidate(ctx context.Context, c ICECandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectCandidates {
		return errStubRejected
	}
	s.added = append(s.added, c)
	return nil
}

func (s *stubSession) CreateDataChannel(label string, ordered bool) (TransportChannel, error) {
	return &stubChannel{label: label}, nil
}

func (s *stubSession) AddTrack(t MediaTrack) error { return nil }

func (s *stubSession) Events() <-chan TransportEvent { return s.events.C() }

func (s *stubSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.events.close()
	return nil
}

type stubChannel struct {
	label string

	mu     sync.Mutex
	sent   [][]byte
	closes int
}

func (c *stubChannel) Label() string { return c.label }

func (c *stubChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, payload)
	return nil
}

func (c *stubChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *stubChannel) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}
