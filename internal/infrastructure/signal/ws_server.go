package signal

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	pionwebrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	rtctransport "tutti/internal/infrastructure/webrtc"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// SignalMessage is one WebSocket signaling frame: SDP offers and answers
// plus trickled ICE candidates.
type SignalMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// WsServer negotiates WebRTC sessions over WebSocket. A client sends an
// offer declaring the audio and control data channels; the server answers
// and from then on the session lives entirely in the transport layer.
type WsServer struct {
	transport *rtctransport.Transport

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

func NewWsServer(transport *rtctransport.Transport, pingInterval, pongTimeout time.Duration, logger *zap.SugaredLogger) *WsServer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if pongTimeout <= 0 {
		pongTimeout = 60 * time.Second
	}
	return &WsServer{
		transport:    transport,
		pingInterval: pingInterval,
		readTimeout:  pongTimeout,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// HandleWebSocket runs one signaling connection to completion.
func (s *WsServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	remoteAddr := r.RemoteAddr

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan SignalMessage, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg SignalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			messageChan <- msg
		}
	}()

	// The session this connection negotiated, once an offer is answered.
	var sessionID string

	for {
		select {
		case msg := <-messageChan:
			reply, err := s.handleMessage(remoteAddr, &sessionID, msg)
			if err != nil {
				s.logger.Warnw("signaling error", "remote", remoteAddr, "error", err)
				reply = &SignalMessage{Type: "error"}
			}
			if reply != nil {
				conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
				if err := conn.WriteJSON(reply); err != nil {
					s.logger.Warnw("signaling write failed", "remote", remoteAddr, "error", err)
					return
				}
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("signaling connection lost", "remote", remoteAddr, "error", err)
			}
			return
		}
	}
}

func (s *WsServer) handleMessage(remoteAddr string, sessionID *string, msg SignalMessage) (*SignalMessage, error) {
	switch msg.Type {
	case "offer":
		session, answerSDP, err := s.transport.HandleOffer(remoteAddr, msg.SDP)
		if err != nil {
			return nil, err
		}
		*sessionID = session.ID()
		return &SignalMessage{
			Type:      "answer",
			SessionID: session.ID(),
			SDP:       answerSDP,
		}, nil

	case "candidate":
		if *sessionID == "" {
			return nil, nil
		}
		var candidate pionwebrtc.ICECandidateInit
		if err := json.Unmarshal(msg.Candidate, &candidate); err != nil {
			return nil, err
		}
		return nil, s.transport.AddICECandidate(*sessionID, candidate)

	default:
		s.logger.Debugw("unknown signaling message", "type", msg.Type, "remote", remoteAddr)
		return nil, nil
	}
}
