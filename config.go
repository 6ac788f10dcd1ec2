package main

import (
	"fmt"
	"time"
)

type Mode string

const (
	ModeData  Mode = "data"
	ModeMedia Mode = "media"
)

type Config struct {
	Mode Mode

	// ChannelLabel names the send-side data channel.
	ChannelLabel string
	Ordered      bool

	ICEServers []string

	// NegotiationTimeout bounds the offer/answer handshake. Zero disables it.
	NegotiationTimeout time.Duration

	// Audio adds an audio track to the local media stream in media mode.
	Audio bool
}

func DefaultConfig() Config {
	return Config{
		Mode:         ModeData,
		ChannelLabel: "sendDataChannel",
		Ordered:      true,
	}
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeData, ModeMedia:
	default:
		return fmt.Errorf("invalid mode: %q", c.Mode)
	}
	if c.Mode == ModeData && c.ChannelLabel == "" {
		return fmt.Errorf("channel label is required in data mode")
	}
	if c.NegotiationTimeout < 0 {
		return fmt.Errorf("negative negotiation timeout: %s", c.NegotiationTimeout)
	}
	return nil
}

// offerOptions mirrors the media shape the offer is constrained to.
func (c Config) offerOptions() OfferOptions {
	return OfferOptions{
		ReceiveVideo: c.Mode == ModeMedia,
		ReceiveAudio: c.Mode == ModeMedia && c.Audio,
	}
}
