package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "default", mutate: func(c *Config) {}},
		{name: "media without label", mutate: func(c *Config) {
			c.Mode = ModeMedia
			c.ChannelLabel = ""
		}},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "fax" }, wantErr: true},
		{name: "data without label", mutate: func(c *Config) { c.ChannelLabel = "" }, wantErr: true},
		{name: "negative timeout", mutate: func(c *Config) { c.NegotiationTimeout = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			if tt.wantErr {
				assert.Error(t, c.Validate())
			} else {
				assert.NoError(t, c.Validate())
			}
		})
	}
}

func TestConfigOfferOptions(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, OfferOptions{}, c.offerOptions())

	c.Mode = ModeMedia
	assert.Equal(t, OfferOptions{ReceiveVideo: true}, c.offerOptions())

	c.Audio = true
	assert.Equal(t, OfferOptions{ReceiveVideo: true, ReceiveAudio: true}, c.offerOptions())
}
