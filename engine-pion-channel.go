package main

import (
	"fmt"
	"math"
	"sync"
	"unicode/utf8"

	"github.com/pion/datachannel"
	"github.com/pion/webrtc/v3"
)

var _ TransportChannel = &pionChannel{}

// pionChannel detaches the webrtc data channel once it opens and pumps the
// raw channel into the session's event stream.
type pionChannel struct {
	session *pionSession
	dc      *webrtc.DataChannel

	mu        sync.Mutex
	raw       *datachannel.DataChannel
	closeOnce sync.Once
}

func (ch *pionChannel) Label() string {
	return ch.dc.Label()
}

func (ch *pionChannel) watch() {
	ch.dc.OnOpen(func() {
		raw, err := detach(ch.dc)
		if err != nil {
			ch.session.log.Warnf("%s: %v", ch.dc.Label(), err)
			ch.closed()
			return
		}

		ch.mu.Lock()
		ch.raw = raw
		ch.mu.Unlock()

		ch.session.events.push(ChannelOpened{Channel: ch})
		go ch.readLoop(raw)
	})
	ch.dc.OnClose(ch.closed)
	ch.dc.OnError(func(err error) {
		ch.session.log.Warnf("data channel %s error: %v", ch.dc.Label(), err)
	})
}

func detach(dc *webrtc.DataChannel) (*datachannel.DataChannel, error) {
	rwc, err := dc.Detach()
	if err != nil {
		return nil, fmt.Errorf("detach datachannel failed: %w", err)
	}

	raw, ok := rwc.(*datachannel.DataChannel)
	if !ok {
		return nil, fmt.Errorf("unexpected data channel concrete type: %T", rwc)
	}
	return raw, nil
}

func (ch *pionChannel) readLoop(raw *datachannel.DataChannel) {
	defer ch.closed()

	buf := make([]byte, math.MaxUint16)
	for {
		n, _, err := raw.ReadDataChannel(buf)
		if err != nil {
			return
		}
		ch.session.events.push(ChannelMessage{Channel: ch, Data: append([]byte(nil), buf[:n]...)})
	}
}

func (ch *pionChannel) Send(payload []byte) error {
	ch.mu.Lock()
	raw := ch.raw
	ch.mu.Unlock()

	if raw == nil {
		return webrtc.ErrDataChannelNotOpen
	}
	_, err := raw.WriteDataChannel(payload, utf8.Valid(payload))
	return err
}

func (ch *pionChannel) Close() error {
	return ch.dc.Close()
}

func (ch *pionChannel) closed() {
	ch.closeOnce.Do(func() {
		ch.session.events.push(ChannelClosedEvent{Channel: ch})
	})
}
