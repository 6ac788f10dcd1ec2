package main

import (
	"context"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// trackWriter feeds a local track with synthetic samples so the peer sees
// RTP flowing and announces the remote track.
type trackWriter struct {
	track *webrtc.TrackLocalStaticSample
	kind  TrackKind
}

func (w trackWriter) interval() time.Duration {
	if w.kind == TrackKindAudio {
		return 20 * time.Millisecond
	}
	return time.Second / 30
}

func (w trackWriter) run(ctx context.Context) {
	interval := w.interval()
	frame := make([]byte, 160)

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.track.WriteSample(media.Sample{Data: frame, Duration: interval}); err != nil {
				return
			}
		}
	}
}
