package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/thesyncim/meetsuite/pkg/logging"
)

// audioLevelURI is the RFC 6464 client-to-mixer audio level extension.
const audioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

// pliInterval is how often a keyframe is requested from video senders.
const pliInterval = 3 * time.Second

// newAPI builds a receive-only WebRTC API that negotiates audio levels and
// NACK so the fixture sees the same streams a conferencing bridge would.
func (s *Server) newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	// Must be registered before the PeerConnection exists so it is offered in SDP.
	if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{
		URI: audioLevelURI,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}

	m.RegisterFeedback(webrtc.RTCPFeedback{Type: "nack"}, webrtc.RTPCodecTypeVideo)
	m.RegisterFeedback(webrtc.RTCPFeedback{Type: "nack", Parameter: "pli"}, webrtc.RTPCodecTypeVideo)

	i := &interceptor.Registry{}
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, err
	}
	i.Add(generator)

	if err := webrtc.ConfigureRTCPReports(i); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(s.settingEngine()),
	), nil
}

// settingEngine routes pion's own logging through the server logger.
func (s *Server) settingEngine() webrtc.SettingEngine {
	return webrtc.SettingEngine{LoggerFactory: logging.PionFactory(s.log)}
}

// handleOffer answers a participant's SDP offer at /offer/{room}/{participant}.
// The answer carries every local candidate, so no trickle is needed.
func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "room")
	id := chi.URLParam(r, "participant")
	log := s.log.WithValues("room", roomName, "participant", id)

	rm, p, ok := s.hub.lookup(roomName, id)
	if !ok {
		http.Error(w, "unknown participant", http.StatusNotFound)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&offer); err != nil {
		log.V(1).Info("failed to decode offer", "error", err.Error())
		http.Error(w, "invalid offer", http.StatusBadRequest)
		return
	}

	api, err := s.newAPI()
	if err != nil {
		log.Error(err, "failed to configure WebRTC")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		log.Error(err, "failed to create peer connection")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			log.Error(err, "failed to add transceiver", "kind", kind.String())
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info("receiving track", "kind", track.Kind().String(), "codec", track.Codec().MimeType, "ssrc", uint32(track.SSRC()))
		go s.readTrack(rm, p, pc, track, receiver)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.V(1).Info("ICE connection state", "state", state.String())
		s.hub.setICE(rm, p, state.String())
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			_ = pc.Close()
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		log.V(1).Info("failed to set remote description", "error", err.Error())
		http.Error(w, "invalid offer", http.StatusBadRequest)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		log.Error(err, "failed to create answer")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		log.Error(err, "failed to set local description")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	select {
	case <-gathered:
	case <-r.Context().Done():
		_ = pc.Close()
		return
	}

	if !s.hub.attachMedia(rm, p, pc) {
		_ = pc.Close()
		http.Error(w, "participant left", http.StatusGone)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(pc.LocalDescription()); err != nil {
		log.V(1).Info("failed to write answer", "error", err.Error())
	}
}

// readTrack drains a remote track, feeding audio levels to the room's
// speaker detector and requesting keyframes for video.
func (s *Server) readTrack(rm *room, p *participant, pc *webrtc.PeerConnection, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	kind := track.Kind().String()

	var levelID uint8
	for _, ext := range receiver.GetParameters().HeaderExtensions {
		if ext.URI == audioLevelURI {
			levelID = uint8(ext.ID)
		}
	}

	done := make(chan struct{})
	defer close(done)
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go func() {
			ticker := time.NewTicker(pliInterval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
					if err := pc.WriteRTCP(pli); err != nil {
						return
					}
				}
			}
		}()
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.V(1).Info("track read ended", "participant", p.id, "kind", kind, "error", err.Error())
			}
			return
		}
		s.metrics.rtpPackets.WithLabelValues(kind).Inc()
		s.metrics.rtpBytes.WithLabelValues(kind).Add(float64(len(pkt.Payload)))

		if levelID == 0 {
			continue
		}
		raw := pkt.GetExtension(levelID)
		if raw == nil {
			continue
		}
		var level rtp.AudioLevelExtension
		if err := level.Unmarshal(raw); err != nil {
			continue
		}
		rm.speakers.Observe(p.id, level.Level)
	}
}
