package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type NegotiationState string

const (
	NegotiationIdle          NegotiationState = "idle"
	NegotiationOfferCreated  NegotiationState = "offer-created"
	NegotiationOfferSet      NegotiationState = "offer-set"
	NegotiationAnswerCreated NegotiationState = "answer-created"
	NegotiationStable        NegotiationState = "stable"
	NegotiationFailed        NegotiationState = "failed"
)

// Negotiator drives a single offer/answer exchange between two endpoints.
// Channels on either endpoint may only open once it reaches stable.
type Negotiator struct {
	offerer  *Endpoint
	answerer *Endpoint
	opts     OfferOptions
	timeout  time.Duration
	tracer   *Tracer

	mu    sync.Mutex
	state NegotiationState
	err   error
	once  sync.Once
	done  chan struct{}
}

func NewNegotiator(offerer, answerer *Endpoint, opts OfferOptions, timeout time.Duration, tracer *Tracer) *Negotiator {
	return &Negotiator{
		offerer:  offerer,
		answerer: answerer,
		opts:     opts,
		timeout:  timeout,
		tracer:   tracer,
		state:    NegotiationIdle,
		done:     make(chan struct{}),
	}
}

func (n *Negotiator) State() NegotiationState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Err returns the error that moved the negotiation to failed.
func (n *Negotiator) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Done is closed when Run returns.
func (n *Negotiator) Done() <-chan struct{} { return n.done }

// Run performs the handshake. Calling it more than once is a no-op.
func (n *Negotiator) Run(ctx context.Context) (err error) {
	ran := false
	n.once.Do(func() {
		ran = true
		defer close(n.done)
		err = n.run(ctx)
	})
	if !ran {
		return fmt.Errorf("negotiation already ran")
	}
	return
}

func (n *Negotiator) run(ctx context.Context) (err error) {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	offer, err := n.offerer.CreateOffer(ctx, n.opts)
	if err != nil {
		return n.fail(ctx, err)
	}
	n.transition(NegotiationOfferCreated)

	if err = n.exchange(ctx, offer, n.offerer, n.answerer); err != nil {
		return n.fail(ctx, err)
	}
	n.transition(NegotiationOfferSet)

	answer, err := n.answerer.CreateAnswer(ctx)
	if err != nil {
		return n.fail(ctx, err)
	}
	n.transition(NegotiationAnswerCreated)

	if err = n.exchange(ctx, answer, n.answerer, n.offerer); err != nil {
		return n.fail(ctx, err)
	}

	if n.offerer.State() != EndpointStable || n.answerer.State() != EndpointStable {
		return ErrLinkClosed
	}
	n.transition(NegotiationStable)
	n.offerer.release()
	n.answerer.release()
	return
}

// exchange applies d as from's local and to's remote description. Both calls
// are in flight together and may complete in either order.
func (n *Negotiator) exchange(ctx context.Context, d SessionDescription, from, to *Endpoint) error {
	var g errgroup.Group
	g.Go(func() error { return from.SetLocalDescription(ctx, d) })
	g.Go(func() error { return to.SetRemoteDescription(ctx, d) })
	return g.Wait()
}

func (n *Negotiator) transition(s NegotiationState) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
	n.tracer.Debugf("", "negotiation state: %s", s)
}

// fail moves to failed unless the endpoints were torn down underneath, in
// which case the result is stale and discarded.
func (n *Negotiator) fail(ctx context.Context, err error) error {
	if errors.Is(err, ErrEndpointClosed) || errors.Is(ctx.Err(), context.Canceled) {
		return ErrLinkClosed
	}
	if n.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %v", ErrNegotiationTimeout, n.timeout, err)
	}

	n.mu.Lock()
	n.state = NegotiationFailed
	n.err = err
	n.mu.Unlock()

	ep := n.offerer.ID()
	var derr *DescriptionRejectedError
	if errors.As(err, &derr) {
		ep = derr.Endpoint
	}
	n.tracer.Error(ep, err)
	return err
}
