package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelSendRequiresOpen(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(c *Channel)
		state   ChannelState
		wantErr bool
	}{
		{
			name:    "connecting",
			prepare: func(c *Channel) {},
			state:   ChannelConnecting,
			wantErr: true,
		},
		{
			name:    "transport open but gated",
			prepare: func(c *Channel) { c.transportOpened() },
			state:   ChannelConnecting,
			wantErr: true,
		},
		{
			name: "open",
			prepare: func(c *Channel) {
				c.transportOpened()
				c.release()
			},
			state: ChannelOpen,
		},
		{
			name: "closed by caller",
			prepare: func(c *Channel) {
				c.release()
				c.transportOpened()
				c.Close()
			},
			state:   ChannelClosed,
			wantErr: true,
		},
		{
			name: "closed by transport",
			prepare: func(c *Channel) {
				c.release()
				c.transportOpened()
				c.transportClosed()
			},
			state:   ChannelClosed,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := &stubChannel{label: "sendDataChannel"}
			tracer := NewTracer(nil)
			c := newChannel(ChannelSideSend, LocalEndpoint, tc, tracer, true)
			tt.prepare(c)
			require.Equal(t, tt.state, c.State())

			err := c.Send([]byte("hello"))
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, [][]byte{[]byte("hello")}, tc.Sent())
				assert.Empty(t, tracer.Errors())
				return
			}

			require.ErrorIs(t, err, ErrChannelNotOpen)
			var cerr *ChannelNotOpenError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.state, cerr.State)
			assert.Equal(t, LocalEndpoint, cerr.Endpoint)
			assert.Empty(t, tc.Sent(), "nothing may reach the transport")
			assert.Equal(t, 1, countErrors[*ChannelNotOpenError](tracer))
		})
	}
}

func TestChannelCloseIdempotent(t *testing.T) {
	tc := &stubChannel{label: "sendDataChannel"}
	c := newChannel(ChannelSideSend, LocalEndpoint, tc, NewTracer(nil), false)
	c.transportOpened()

	hooks := 0
	c.OnClose(func() { hooks++ })

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, ChannelClosed, c.State())
	assert.Equal(t, 1, hooks)
	assert.Equal(t, 1, tc.closes)

	select {
	case _, ok := <-c.Messages():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("messages not closed")
	}
}

func TestChannelGateAndNotifications(t *testing.T) {
	tracer := NewTracer(nil)
	c := newChannel(ChannelSideReceive, RemoteEndpoint, &stubChannel{label: "sendDataChannel"}, tracer, true)
	states, stop := c.Subscribe()
	defer stop()

	c.transportOpened()
	assert.Equal(t, ChannelConnecting, c.State())

	c.release()
	select {
	case s := <-states:
		assert.Equal(t, ChannelOpen, s)
	case <-time.After(time.Second):
		t.Fatal("no open notification")
	}

	c.deliver([]byte("ping"))
	select {
	case b := <-c.Messages():
		assert.Equal(t, "ping", string(b))
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	c.transportClosed()
	select {
	case s := <-states:
		assert.Equal(t, ChannelClosed, s)
	case <-time.After(time.Second):
		t.Fatal("no closed notification")
	}

	var texts []string
	for _, e := range tracer.Entries() {
		texts = append(texts, e.Text)
	}
	assert.Contains(t, texts, "Receive channel state is: open")
	assert.Contains(t, texts, "Receive channel state is: closed")
}
