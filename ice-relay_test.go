package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRemotes(t *testing.T, local, remote *Endpoint) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, local.SetRemoteDescription(ctx, SessionDescription{Type: SDPTypeAnswer, SDP: "stub answer"}))
	require.NoError(t, remote.SetRemoteDescription(ctx, SessionDescription{Type: SDPTypeOffer, SDP: "stub offer"}))
}

func TestIceRelayNeverDeliversToOrigin(t *testing.T) {
	engine := newStubEngine()
	local, remote, tracer := newEndpointPair(t, engine)
	relay := newRelay(t, tracer, local, remote)
	setRemotes(t, local, remote)

	rng := rand.New(rand.NewSource(7))
	sent := map[EndpointID]int{}
	const total = 200
	for i := 0; i < total; i++ {
		from := LocalEndpoint
		if rng.Intn(2) == 1 {
			from = RemoteEndpoint
		}
		sent[from]++
		engine.sessions[from].emit(CandidateDiscovered{Candidate: ICECandidate{
			Payload: fmt.Sprintf("candidate:%s-%d", from, i),
		}})
		if rng.Intn(5) == 0 {
			// duplicates are tolerated
			sent[from]++
			engine.sessions[from].emit(CandidateDiscovered{Candidate: ICECandidate{
				Payload: fmt.Sprintf("candidate:%s-%d", from, i),
			}})
		}
	}

	require.Eventually(t, func() bool {
		return len(engine.sessions[LocalEndpoint].Added())+len(engine.sessions[RemoteEndpoint].Added()) == sent[LocalEndpoint]+sent[RemoteEndpoint]
	}, 5*time.Second, 10*time.Millisecond)

	for id, s := range engine.sessions {
		added := s.Added()
		assert.Len(t, added, sent[id.Peer()])
		for _, c := range added {
			assert.Equal(t, id.Peer(), c.Origin, "candidate %s delivered to its origin", c.Payload)
		}
	}

	// A candidate addressed back to its origin is dropped before the transport.
	relay.Forward(ICECandidate{Origin: LocalEndpoint, Payload: "candidate:loop"}, local)
	assert.Never(t, func() bool {
		return len(engine.sessions[LocalEndpoint].Added()) != sent[RemoteEndpoint]
	}, 100*time.Millisecond, 10*time.Millisecond)

	st := relay.Stats()
	assert.Equal(t, uint32(sent[LocalEndpoint]), st[LocalEndpoint].Relayed)
	assert.Equal(t, uint32(sent[RemoteEndpoint]), st[RemoteEndpoint].Relayed)
	assert.Equal(t, uint32(1), st[LocalEndpoint].Dropped)
	assert.Empty(t, tracer.Errors())
}

func TestIceRelayHoldsCandidatesUntilRemoteDescription(t *testing.T) {
	engine := newStubEngine()
	local, remote, tracer := newEndpointPair(t, engine)
	newRelay(t, tracer, local, remote)

	engine.sessions[LocalEndpoint].emit(CandidateDiscovered{Candidate: ICECandidate{Payload: "candidate:early"}})
	assert.Never(t, func() bool {
		return len(engine.sessions[RemoteEndpoint].Added()) > 0
	}, 100*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, remote.SetRemoteDescription(context.Background(), SessionDescription{Type: SDPTypeOffer, SDP: "stub offer"}))
	require.Eventually(t, func() bool {
		return len(engine.sessions[RemoteEndpoint].Added()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "candidate:early", engine.sessions[RemoteEndpoint].Added()[0].Payload)
}

func TestIceRelayDropsRejectedCandidates(t *testing.T) {
	engine := newStubEngine()
	engine.sessions[RemoteEndpoint].rejectCandidates = true
	local, remote, tracer := newEndpointPair(t, engine)
	relay := newRelay(t, tracer, local, remote)
	setRemotes(t, local, remote)

	engine.sessions[LocalEndpoint].emit(CandidateDiscovered{Candidate: ICECandidate{Payload: "candidate:bad"}})
	engine.sessions[RemoteEndpoint].emit(CandidateDiscovered{Candidate: ICECandidate{Payload: "candidate:good"}})

	require.Eventually(t, func() bool {
		st := relay.Stats()
		return st[LocalEndpoint].Dropped == 1 && st[RemoteEndpoint].Relayed == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, countErrors[*CandidateRejectedError](tracer))
	assert.Equal(t, EndpointHaveRemoteOffer, remote.State(), "a dropped candidate does not fail the endpoint")
}

func TestIceRelayIgnoresClosedTarget(t *testing.T) {
	engine := newStubEngine()
	local, remote, tracer := newEndpointPair(t, engine)
	relay := newRelay(t, tracer, local, remote)
	setRemotes(t, local, remote)

	require.NoError(t, remote.Close())
	relay.Forward(ICECandidate{Origin: LocalEndpoint, Payload: "candidate:late"}, remote)
	relay.Close()

	st := relay.Stats()
	assert.Zero(t, st[LocalEndpoint].Relayed)
	assert.Zero(t, st[LocalEndpoint].Dropped)
	assert.Empty(t, tracer.Errors())
	assert.Empty(t, engine.sessions[RemoteEndpoint].Added())
}

func TestIceRelayRejectsSelfBinding(t *testing.T) {
	local, _, tracer := newEndpointPair(t, newStubEngine())
	relay := NewIceRelay(context.Background(), tracer)
	defer relay.Close()

	assert.Error(t, relay.Bind(local, local))
}

func TestIceRelayForwardAfterClose(t *testing.T) {
	engine := newStubEngine()
	local, remote, tracer := newEndpointPair(t, engine)
	relay := NewIceRelay(context.Background(), tracer)
	setRemotes(t, local, remote)

	relay.Close()
	relay.Forward(ICECandidate{Origin: LocalEndpoint, Payload: "candidate:late"}, remote)
	assert.ErrorIs(t, relay.Bind(local, remote), ErrRelayClosed)

	assert.Empty(t, engine.sessions[RemoteEndpoint].Added())
	assert.Zero(t, relay.Stats()[LocalEndpoint].Relayed)
	assert.Empty(t, tracer.Errors())
}

func TestIceRelayForwardRacesClose(t *testing.T) {
	for i := 0; i < 50; i++ {
		engine := newStubEngine()
		local, remote, tracer := newEndpointPair(t, engine)
		relay := NewIceRelay(context.Background(), tracer)
		setRemotes(t, local, remote)

		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				relay.Forward(ICECandidate{Origin: LocalEndpoint, Payload: fmt.Sprintf("candidate:%d", j)}, remote)
			}(j)
		}
		relay.Close()
		wg.Wait()

		st := relay.Stats()[LocalEndpoint]
		assert.LessOrEqual(t, int(st.Relayed), len(engine.sessions[RemoteEndpoint].Added()))
		assert.Empty(t, tracer.Errors())
	}
}
