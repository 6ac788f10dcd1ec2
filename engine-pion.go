package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/ice/v2"
	"github.com/pion/logging"
	"github.com/pion/transport/v2/vnet"
	"github.com/pion/webrtc/v3"
)

var defaultSTUNs = []string{
	"stun:stun.l.google.com:19302",
}

type PionOptions struct {
	// Virtual runs both endpoints on an in-process virtual network instead
	// of the host interfaces.
	Virtual       bool
	ICEServers    []string
	LoggerFactory logging.LoggerFactory
}

// PionEngine is the transport engine backed by pion/webrtc.
type PionEngine struct {
	opts   PionOptions
	router *vnet.Router
	nets   map[EndpointID]*vnet.Net
}

var _ TransportEngine = &PionEngine{}

func NewPionEngine(opts PionOptions) (e *PionEngine, err error) {
	if opts.LoggerFactory == nil {
		opts.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	e = &PionEngine{opts: opts, nets: map[EndpointID]*vnet.Net{}}
	if !opts.Virtual {
		return
	}

	e.router, err = vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: opts.LoggerFactory,
	})
	if err != nil {
		return nil, fmt.Errorf("create virtual router failed: %w", err)
	}
	for i, id := range []EndpointID{LocalEndpoint, RemoteEndpoint} {
		n, err := vnet.NewNet(&vnet.NetConfig{
			StaticIPs: []string{fmt.Sprintf("10.0.0.%d", i+2)},
		})
		if err != nil {
			return nil, fmt.Errorf("create virtual net for %s failed: %w", id, err)
		}
		if err = e.router.AddNet(n); err != nil {
			return nil, fmt.Errorf("attach virtual net for %s failed: %w", id, err)
		}
		e.nets[id] = n
	}
	if err = e.router.Start(); err != nil {
		return nil, fmt.Errorf("start virtual router failed: %w", err)
	}
	return
}

func (e *PionEngine) NewSession(ctx context.Context, cfg SessionConfig) (TransportSession, error) {
	s := webrtc.SettingEngine{}
	s.DetachDataChannels()
	s.LoggerFactory = e.opts.LoggerFactory
	s.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)

	var servers []webrtc.ICEServer
	if n, ok := e.nets[cfg.Endpoint]; ok {
		s.SetNet(n)
	} else {
		urls := cfg.ICEServers
		if len(urls) == 0 {
			urls = e.opts.ICEServers
		}
		if len(urls) == 0 {
			urls = defaultSTUNs
		}
		servers = []webrtc.ICEServer{{URLs: urls}}
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs failed: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(s), webrtc.WithMediaEngine(m))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection failed: %w", err)
	}
	return newPionSession(cfg.Endpoint, pc, e.opts.LoggerFactory.NewLogger("peerloop-"+string(cfg.Endpoint))), nil
}

func (e *PionEngine) Close() error {
	if e.router == nil {
		return nil
	}
	return e.router.Stop()
}

type pionSession struct {
	id     EndpointID
	pc     *webrtc.PeerConnection
	events *eventQueue[TransportEvent]
	log    logging.LeveledLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	kinds       map[TrackKind]bool
	writers     []trackWriter
	writersOnce sync.Once
}

func newPionSession(id EndpointID, pc *webrtc.PeerConnection, log logging.LeveledLogger) *pionSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &pionSession{
		id:     id,
		pc:     pc,
		events: newEventQueue[TransportEvent](),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		kinds:  map[TrackKind]bool{},
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			s.events.push(GatheringComplete{})
			return
		}
		b, err := json.Marshal(c.ToJSON())
		if err != nil {
			s.log.Warnf("marshal ICE candidate failed: %v", err)
			return
		}
		s.events.push(CandidateDiscovered{Candidate: ICECandidate{Payload: string(b)}})
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		ch := &pionChannel{session: s, dc: dc}
		s.events.push(ChannelReceived{Channel: ch})
		ch.watch()
	})

	pc.OnConnectionStateChange(func(pcs webrtc.PeerConnectionState) {
		s.events.push(ConnectionStateChanged{State: pcs.String()})
		if pcs == webrtc.PeerConnectionStateConnected {
			s.startWriters()
		}
	})

	pc.OnICEConnectionStateChange(func(is webrtc.ICEConnectionState) {
		s.events.push(ICEStateChanged{State: is.String()})
	})

	pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.events.push(TrackReceived{ID: t.ID(), Kind: TrackKind(t.Kind().String())})
		go func() {
			for {
				if _, _, err := t.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})

	return s
}

func (s *pionSession) CreateOffer(ctx context.Context, opts OfferOptions) (d SessionDescription, err error) {
	want := map[TrackKind]bool{TrackKindVideo: opts.ReceiveVideo, TrackKindAudio: opts.ReceiveAudio}
	for kind, recv := range want {
		if !recv || s.hasTrack(kind) {
			continue
		}
		_, err = s.pc.AddTransceiverFromKind(codecType(kind), webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return d, fmt.Errorf("add %s transceiver failed: %w", kind, err)
		}
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return d, fmt.Errorf("create webrtc offer failed: %w", err)
	}
	return SessionDescription{Type: SDPTypeOffer, SDP: offer.SDP}, nil
}

func (s *pionSession) CreateAnswer(ctx context.Context) (d SessionDescription, err error) {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return d, fmt.Errorf("create webrtc answer failed: %w", err)
	}
	return SessionDescription{Type: SDPTypeAnswer, SDP: answer.SDP}, nil
}

func (s *pionSession) SetLocalDescription(ctx context.Context, d SessionDescription) error {
	return s.pc.SetLocalDescription(toWebRTC(d))
}

func (s *pionSession) SetRemoteDescription(ctx context.Context, d SessionDescription) error {
	return s.pc.SetRemoteDescription(toWebRTC(d))
}

func (s *pionSession) AddICECandidate(ctx context.Context, c ICECandidate) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(c.Payload), &init); err != nil {
		return fmt.Errorf("decode ICE candidate failed: %w", err)
	}
	return s.pc.AddICECandidate(init)
}

func (s *pionSession) CreateDataChannel(label string, ordered bool) (TransportChannel, error) {
	dc, err := s.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel failed: %w", err)
	}
	ch := &pionChannel{session: s, dc: dc}
	ch.watch()
	return ch, nil
}

func (s *pionSession) AddTrack(t MediaTrack) error {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType(t.Kind)}, t.ID, t.StreamID)
	if err != nil {
		return fmt.Errorf("create local track failed: %w", err)
	}
	sender, err := s.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add local track failed: %w", err)
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds[t.Kind] = true
	s.writers = append(s.writers, trackWriter{track: track, kind: t.Kind})
	return nil
}

func (s *pionSession) hasTrack(kind TrackKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kinds[kind]
}

func (s *pionSession) startWriters() {
	s.writersOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, w := range s.writers {
			go w.run(s.ctx)
		}
	})
}

func (s *pionSession) Events() <-chan TransportEvent {
	return s.events.C()
}

func (s *pionSession) Close() error {
	s.cancel()
	defer s.events.close()
	return s.pc.Close()
}

func toWebRTC(d SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(string(d.Type)),
		SDP:  d.SDP,
	}
}

func codecType(kind TrackKind) webrtc.RTPCodecType {
	if kind == TrackKindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

func mimeType(kind TrackKind) string {
	if kind == TrackKindAudio {
		return webrtc.MimeTypeOpus
	}
	return webrtc.MimeTypeVP8
}
