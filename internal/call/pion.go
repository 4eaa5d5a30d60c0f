package call

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"

	"github.com/lumachat/lumasync/internal/config"
	"github.com/lumachat/lumasync/internal/logging"
)

// PionFactory builds peer links on pion/webrtc.
type PionFactory struct {
	iceServers []webrtc.ICEServer
	log        *logging.Logger
}

// NewPionFactory creates a factory from config.
func NewPionFactory(cfg config.RTCConfig, log *logging.Logger) *PionFactory {
	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return &PionFactory{iceServers: servers, log: log.Sub("webrtc")}
}

// NewPeerLink builds one configured peer connection.
func (f *PionFactory) NewPeerLink(cb PeerCallbacks) (PeerLink, error) {
	m := &webrtc.MediaEngine{}

	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}

	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}

	reg := &interceptor.Registry{}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, err
	}
	reg.Add(pli)
	if err := webrtc.RegisterDefaultInterceptors(m, reg); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(reg))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: f.iceServers})
	if err != nil {
		return nil, err
	}

	link := &pionLink{pc: pc, log: f.log}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		f.log.Debug().Str("kind", track.Kind().String()).Str("codec", track.Codec().MimeType).Msg("remote track")
		if cb.OnRemoteTrack != nil {
			cb.OnRemoteTrack(track.Kind().String())
		}
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil && cb.OnCandidate != nil {
			cb.OnCandidate(c.ToJSON().Candidate)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		f.log.Debug().Str("state", state.String()).Msg("peer connection state")
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if cb.OnStateChange != nil {
				cb.OnStateChange(true)
			}
		case webrtc.PeerConnectionStateDisconnected:
			if cb.OnStateChange != nil {
				cb.OnStateChange(false)
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if cb.OnStateChange != nil {
				cb.OnStateChange(false)
			}
			link.failOnce.Do(func() {
				if cb.OnFailure != nil {
					cb.OnFailure()
				}
			})
		}
	})

	return link, nil
}

type pionLink struct {
	pc          *webrtc.PeerConnection
	log         *logging.Logger
	videoSender *webrtc.RTPSender
	failOnce    sync.Once
}

func (l *pionLink) AddTrack(t Track) error {
	local, ok := t.Local().(webrtc.TrackLocal)
	if !ok {
		return errors.New("call: track is not a webrtc local track")
	}
	sender, err := l.pc.AddTrack(local)
	if err != nil {
		return err
	}
	if t.Kind() == "video" {
		l.videoSender = sender
	}
	return nil
}

func (l *pionLink) ReplaceVideoTrack(t Track) error {
	if l.videoSender == nil {
		return errors.New("call: no video sender to replace")
	}
	local, ok := t.Local().(webrtc.TrackLocal)
	if !ok {
		return errors.New("call: track is not a webrtc local track")
	}
	return l.videoSender.ReplaceTrack(local)
}

func (l *pionLink) CreateOffer() (string, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	<-gathered
	return l.pc.LocalDescription().SDP, nil
}

func (l *pionLink) HandleOffer(sdp string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	<-gathered
	return l.pc.LocalDescription().SDP, nil
}

func (l *pionLink) HandleAnswer(sdp string) error {
	return l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (l *pionLink) AddCandidate(candidate string) error {
	return l.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

func (l *pionLink) Close() error {
	return l.pc.Close()
}

// sampleTrack wraps a static-sample track so the capture pipeline can feed
// it encoded samples.
type sampleTrack struct {
	track *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	onEnded func()
}

func (t *sampleTrack) Kind() string { return t.track.Kind().String() }
func (t *sampleTrack) Local() any   { return t.track }

func (t *sampleTrack) OnEnded(h func()) {
	t.mu.Lock()
	t.onEnded = h
	t.mu.Unlock()
}

// end fires the registered ended handler. The capture pipeline calls it when
// the source stops.
func (t *sampleTrack) end() {
	t.mu.Lock()
	h := t.onEnded
	t.mu.Unlock()
	if h != nil {
		h()
	}
}

// SampleMediaSource builds static-sample local tracks for the capture
// pipeline to write into.
type SampleMediaSource struct{}

func (SampleMediaSource) Acquire(callType string) ([]Track, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "lumasync")
	if err != nil {
		return nil, err
	}
	tracks := []Track{&sampleTrack{track: audio}}

	if callType == CallTypeVideo {
		video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, "video", "lumasync")
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, &sampleTrack{track: video})
	}
	return tracks, nil
}

func (SampleMediaSource) AcquireScreen() (Track, error) {
	screen, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}, "screen", "lumasync")
	if err != nil {
		return nil, err
	}
	return &sampleTrack{track: screen}, nil
}

func (SampleMediaSource) Release(tracks []Track) {
	for _, t := range tracks {
		if st, ok := t.(*sampleTrack); ok {
			st.end()
		}
	}
}
