package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
)

type Cli struct {
	Demo  CliDemo  `cmd:"" default:"withargs" name:"demo" help:"run a local/remote pair, exchange messages and hang up"`
	Serve CliServe `cmd:"" name:"serve" help:"expose begin/connect/send/teardown over HTTP"`
}

func newCLI() (*Cli, *kong.Context) {
	c := &Cli{}
	ctx := kong.Parse(c,
		kong.Name("peerloop"),
		kong.Description("Peer-to-peer session negotiation between two endpoints in one process."),
	)
	return c, ctx
}

// CliLink holds the flags shared by every command that owns a Link.
type CliLink struct {
	Engine  string `name:"engine" default:"pion" enum:"memory,pion" env:"PEERLOOP_ENGINE" help:"Transport engine. Available options are 'memory' or 'pion'."`
	Network string `name:"network" default:"virtual" enum:"virtual,host" env:"PEERLOOP_NETWORK" help:"Network used by the pion engine. 'virtual' never touches the host interfaces."`

	Mode      string `name:"mode" short:"m" default:"data" enum:"data,media" env:"PEERLOOP_MODE" help:"Payload carried between the endpoints."`
	Audio     bool   `name:"audio" help:"Add an audio track to the local stream in media mode."`
	Label     string `name:"label" default:"sendDataChannel" help:"Label of the send-side data channel."`
	Unordered bool   `name:"unordered" help:"Allow out of order delivery on the data channel."`

	ICEServers         []string      `name:"ice-server" help:"List of ICE servers to use for discovering addresses." placeholder:"[stun|stuns|turn|turns]://<host>:<port>"`
	NegotiationTimeout time.Duration `name:"negotiation-timeout" default:"30s" env:"PEERLOOP_NEGOTIATION_TIMEOUT" help:"Upper bound for the offer/answer exchange. Zero disables it."`

	LogLevel string `name:"log-level" default:"info" enum:"disabled,error,warn,info,debug,trace" env:"PEERLOOP_LOG_LEVEL" help:"Verbosity of the trace output."`
}

func (c *CliLink) config() Config {
	cfg := DefaultConfig()
	cfg.Mode = Mode(c.Mode)
	cfg.Audio = c.Audio
	cfg.ChannelLabel = c.Label
	cfg.Ordered = !c.Unordered
	cfg.ICEServers = c.ICEServers
	cfg.NegotiationTimeout = c.NegotiationTimeout
	return cfg
}

// newLink builds the engine and the link on top of it. The returned func
// releases the engine.
func (c *CliLink) newLink() (link *Link, cleanup func(), err error) {
	lf := newLoggerFactory(c.LogLevel, os.Stderr)
	tracer := NewTracer(lf)

	var engine TransportEngine
	cleanup = func() {}
	switch c.Engine {
	case "memory":
		engine = NewMemoryEngine()

	case "pion":
		pe, err := NewPionEngine(PionOptions{
			Virtual:       c.Network == "virtual",
			ICEServers:    c.ICEServers,
			LoggerFactory: lf,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create pion engine failed: %w", err)
		}
		engine = pe
		cleanup = func() { pe.Close() }

	default:
		return nil, nil, fmt.Errorf("unknown engine: %s", c.Engine)
	}

	link, err = NewLink(engine, c.config(), tracer)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return
}
