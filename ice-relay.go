package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

type RelayStats struct {
	Relayed uint32 `json:"relayed"`
	Dropped uint32 `json:"dropped"`
}

// IceRelay forwards the candidates each endpoint discovers to its peer,
// independently of the negotiation. Candidates arriving before the target
// has a remote description are held back and flushed once it has one.
type IceRelay struct {
	tracer *Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	relayed map[EndpointID]*atomic.Uint32
	dropped map[EndpointID]*atomic.Uint32
}

func NewIceRelay(ctx context.Context, tracer *Tracer) *IceRelay {
	ctx, cancel := context.WithCancel(ctx)
	r := &IceRelay{
		tracer:  tracer,
		ctx:     ctx,
		cancel:  cancel,
		relayed: map[EndpointID]*atomic.Uint32{},
		dropped: map[EndpointID]*atomic.Uint32{},
	}
	for _, id := range []EndpointID{LocalEndpoint, RemoteEndpoint} {
		r.relayed[id] = &atomic.Uint32{}
		r.dropped[id] = &atomic.Uint32{}
	}
	return r
}

// Bind routes every candidate discovered by from to to.
func (r *IceRelay) Bind(from, to *Endpoint) error {
	if from.ID() == to.ID() {
		return fmt.Errorf("cannot relay %s candidates to itself", from.ID())
	}
	if !r.acquire() {
		return ErrRelayClosed
	}

	go func() {
		defer r.wg.Done()
		r.relay(from, to)
	}()
	return nil
}

func (r *IceRelay) relay(from, to *Endpoint) {
	deferred := make([]ICECandidate, 0, 10)
	ready := to.RemoteDescriptionSet()
	cands := from.Candidates()

	for {
		select {
		case <-r.ctx.Done():
			return

		case <-ready:
			ready = nil
			for _, c := range deferred {
				r.Forward(c, to)
			}
			deferred = deferred[:0]

		case c, ok := <-cands:
			if !ok {
				return
			}
			if ready != nil {
				deferred = append(deferred, c)
				continue
			}
			r.Forward(c, to)
		}
	}
}

// Forward hands c to the target endpoint asynchronously. Rejections are
// logged and the candidate dropped; results after teardown are ignored.
func (r *IceRelay) Forward(c ICECandidate, to *Endpoint) {
	if c.Origin == to.ID() {
		r.tracer.Debugf(to.ID(), "dropping candidate addressed to its own origin")
		bump(r.dropped, c.Origin)
		return
	}
	if !r.acquire() {
		return
	}

	go func() {
		defer r.wg.Done()

		err := to.AddICECandidate(r.ctx, c)
		switch {
		case r.ctx.Err() != nil, errors.Is(err, ErrEndpointClosed):
			return

		case err != nil:
			bump(r.dropped, c.Origin)
			r.tracer.Error(to.ID(), err)

		default:
			bump(r.relayed, c.Origin)
			r.tracer.Tracef(to.ID(), "%s addIceCandidate success", to.ID())
		}
	}()
}

// Stats returns counters keyed by the originating endpoint.
func (r *IceRelay) Stats() map[EndpointID]RelayStats {
	s := map[EndpointID]RelayStats{}
	for id := range r.relayed {
		s[id] = RelayStats{
			Relayed: r.relayed[id].Load(),
			Dropped: r.dropped[id].Load(),
		}
	}
	return s
}

// acquire registers one more in-flight goroutine. It fails once Close has
// started, so wg.Add never races wg.Wait.
func (r *IceRelay) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.ctx.Err() != nil {
		return false
	}
	r.wg.Add(1)
	return true
}

// Close stops relaying and waits for in-flight forwards to settle.
func (r *IceRelay) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}

func bump(m map[EndpointID]*atomic.Uint32, id EndpointID) {
	if c, ok := m[id]; ok {
		c.Add(1)
	}
}
