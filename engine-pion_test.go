package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVirtualPionEngine(t *testing.T) *PionEngine {
	t.Helper()

	e, err := NewPionEngine(PionOptions{
		Virtual:       true,
		LoggerFactory: newLoggerFactory("disabled", io.Discard),
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestPionEngineDataOverVirtualNetwork(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a full ICE/DTLS/SCTP handshake")
	}

	link := newTestLink(t, newVirtualPionEngine(t), DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, link.Begin(ctx))
	require.NoError(t, link.Connect(ctx))
	require.NoError(t, link.WaitOpen(ctx))

	require.NoError(t, link.Send([]byte("hello over vnet")))
	b, err := chanRecv(ctx, link.Received())
	require.NoError(t, err)
	assert.Equal(t, "hello over vnet", string(b))

	st := link.Status()
	assert.Equal(t, NegotiationStable, st.Negotiation)
	assert.NotZero(t, st.Relay[LocalEndpoint].Relayed)
	assert.NotZero(t, st.Relay[RemoteEndpoint].Relayed)

	require.NoError(t, link.Teardown())
	require.NoError(t, link.Teardown())
}

func TestPionEngineMediaOverVirtualNetwork(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a full ICE/DTLS/SRTP handshake")
	}

	cfg := DefaultConfig()
	cfg.Mode = ModeMedia
	link := newTestLink(t, newVirtualPionEngine(t), cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, link.Begin(ctx))
	require.NoError(t, link.Connect(ctx))
	require.NoError(t, link.WaitOpen(ctx))
	assert.Equal(t, EndpointStable, link.Status().Endpoints[RemoteEndpoint].State)
}

func TestPionSessionRejectsMalformedDescription(t *testing.T) {
	e := newVirtualPionEngine(t)
	s, err := e.NewSession(context.Background(), SessionConfig{Endpoint: LocalEndpoint})
	require.NoError(t, err)
	defer s.Close()

	err = s.SetRemoteDescription(context.Background(), SessionDescription{Type: SDPTypeOffer, SDP: "not sdp"})
	assert.Error(t, err)
	assert.Error(t, s.AddICECandidate(context.Background(), ICECandidate{Payload: "{"}))
}
