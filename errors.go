package main

import (
	"errors"
	"fmt"
)

var (
	ErrTransportUnavailable = errors.New("transport engine unavailable")
	ErrChannelNotOpen       = errors.New("channel not open")
	ErrEndpointClosed       = errors.New("endpoint closed")
	ErrLinkClosed           = errors.New("link closed")
	ErrAlreadyConnected     = errors.New("already connected")
	ErrNotConnected         = errors.New("not connected")
	ErrNoLocalMedia         = errors.New("no local media, call begin first")
	ErrNegotiationTimeout   = errors.New("negotiation timed out")
	ErrRelayClosed          = errors.New("relay closed")
)

// SessionCreationError is fatal: the endpoint has no transport session.
type SessionCreationError struct {
	Endpoint EndpointID
	Err      error
}

func (e *SessionCreationError) Error() string {
	return fmt.Sprintf("%s: create session failed: %v", e.Endpoint, e.Err)
}

func (e *SessionCreationError) Unwrap() error { return e.Err }

// DescriptionRejectedError aborts the negotiation attempt it happened in.
type DescriptionRejectedError struct {
	Endpoint EndpointID
	Op       string
	Type     SDPType
	Err      error
}

func (e *DescriptionRejectedError) Error() string {
	return fmt.Sprintf("%s: %s (%s) failed: %v", e.Endpoint, e.Op, e.Type, e.Err)
}

func (e *DescriptionRejectedError) Unwrap() error { return e.Err }

// CandidateRejectedError is non fatal, the candidate is dropped.
type CandidateRejectedError struct {
	Endpoint  EndpointID
	Candidate ICECandidate
	Err       error
}

func (e *CandidateRejectedError) Error() string {
	return fmt.Sprintf("%s: add ICE candidate from %s failed: %v", e.Endpoint, e.Candidate.Origin, e.Err)
}

func (e *CandidateRejectedError) Unwrap() error { return e.Err }

type ChannelNotOpenError struct {
	Endpoint EndpointID
	Side     ChannelSide
	State    ChannelState
}

func (e *ChannelNotOpenError) Error() string {
	return fmt.Sprintf("%s: %s channel is %s", e.Endpoint, e.Side, e.State)
}

func (e *ChannelNotOpenError) Is(target error) bool { return target == ErrChannelNotOpen }
