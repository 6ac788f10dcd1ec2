package main

import (
	"context"
)

type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescription is produced by one transport session and consumed by
// the peer. The payload is owned by the engine.
type SessionDescription struct {
	Type SDPType
	SDP  string
}

// ICECandidate is an opaque reachability hint tagged with the endpoint that
// discovered it.
type ICECandidate struct {
	Origin  EndpointID
	Payload string
}

type OfferOptions struct {
	ReceiveVideo bool
	ReceiveAudio bool
}

type SessionConfig struct {
	Endpoint   EndpointID
	ICEServers []string
}

type TransportEngine interface {
	NewSession(ctx context.Context, cfg SessionConfig) (TransportSession, error)
}

type TransportSession interface {
	CreateOffer(ctx context.Context, opts OfferOptions) (SessionDescription, error)
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetLocalDescription(ctx context.Context, d SessionDescription) error
	SetRemoteDescription(ctx context.Context, d SessionDescription) error
	AddICECandidate(ctx context.Context, c ICECandidate) error
	CreateDataChannel(label string, ordered bool) (TransportChannel, error)
	AddTrack(track MediaTrack) error

	// Events delivers push notifications until the session is closed.
	Events() <-chan TransportEvent
	Close() error
}

type TransportChannel interface {
	Label() string
	Send(payload []byte) error
	Close() error
}

// TransportEvent is one of the push notification types below.
type TransportEvent interface {
	transportEvent()
}

type CandidateDiscovered struct{ Candidate ICECandidate }

type GatheringComplete struct{}

type ChannelReceived struct{ Channel TransportChannel }

type ChannelOpened struct{ Channel TransportChannel }

type ChannelClosedEvent struct{ Channel TransportChannel }

type ChannelMessage struct {
	Channel TransportChannel
	Data    []byte
}

type ConnectionStateChanged struct{ State string }

type ICEStateChanged struct{ State string }

type TrackReceived struct {
	ID   string
	Kind TrackKind
}

func (CandidateDiscovered) transportEvent()    {}
func (GatheringComplete) transportEvent()      {}
func (ChannelReceived) transportEvent()        {}
func (ChannelOpened) transportEvent()          {}
func (ChannelClosedEvent) transportEvent()     {}
func (ChannelMessage) transportEvent()         {}
func (ConnectionStateChanged) transportEvent() {}
func (ICEStateChanged) transportEvent()        {}
func (TrackReceived) transportEvent()          {}
