package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/realtime"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"
)

const (
	DefaultHandshakeTimeout  = 5 * time.Second
	DefaultMessagesPerSecond = 5

	// maxDecodeErrors closes a connection that keeps sending garbage.
	maxDecodeErrors = 3
	maxFrameBytes   = 64 << 10
	writeTimeout    = 5 * time.Second
)

// WSConfig tunes the realtime endpoint. Zero values take the defaults.
type WSConfig struct {
	HandshakeTimeout  time.Duration
	MessagesPerSecond float64
	Burst             int
}

func (c WSConfig) handshakeTimeout() time.Duration {
	if c.HandshakeTimeout > 0 {
		return c.HandshakeTimeout
	}
	return DefaultHandshakeTimeout
}

func (c WSConfig) limiter() *rate.Limiter {
	mps := c.MessagesPerSecond
	if mps <= 0 {
		mps = DefaultMessagesPerSecond
	}
	burst := c.Burst
	if burst <= 0 {
		burst = int(mps)
	}
	return rate.NewLimiter(rate.Limit(mps), max(burst, 1))
}

// WSHandler serves GET /v1/ws.
//
// The first frame must be {"type":"connect","auth":{"token":...}} and arrive
// within the handshake timeout. The token is looked up in the frame's auth,
// then the URL query, then the Authorization header.
type WSHandler struct {
	TokenService *service.TokenService
	Hub          *realtime.Hub
	Config       WSConfig
}

// ServeHTTP godoc
//
//	@Summary		Realtime Connection
//	@Description	Upgrades to a websocket. The first client frame must be a connect frame carrying the access token.
//	@Description	The server answers connect_ok with the identity, or connect_error and closes.
//	@Description	After that it serves ping (answered with pong) and whoami (answered with identity) and pushes session events.
//	@Tags			Realtime
//	@Param			token	query	string	false	"Access token, used when the connect frame carries none"
//	@Success		101		"Switching Protocols"
//	@Failure		429		{object}	authsdk.ErrorResponse	"rate_limited"
//	@Router			/v1/ws [get].
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Origin is not checked; the connect frame authenticates.
	srv := websocket.Server{Handler: h.serveConn}
	srv.ServeHTTP(w, r)
}

func (h *WSHandler) serveConn(conn *websocket.Conn) {
	conn.MaxPayloadBytes = maxFrameBytes
	peer := &wsPeer{conn: conn}
	defer func() { _ = peer.Close() }()

	req := conn.Request()
	ctx := req.Context()
	log := slogx.FromContext(ctx)

	principal, err := h.handshake(conn, req)
	if err != nil {
		var apiErr *authsdk.APIError
		if !errors.As(err, &apiErr) {
			apiErr = authsdk.ErrInvalidRequest.WithDescription("connect frame expected")
		}
		log.Info("websocket connect rejected", "err", err)
		_ = peer.send(authsdk.ServerFrame{
			Type:  authsdk.FrameConnectError,
			Error: &authsdk.ErrorResponse{Error: apiErr.Code, ErrorDescription: apiErr.Description},
		})
		return
	}

	peer.sid = principal.SessionID
	log = log.With(slog.String("subject", principal.ID), slog.String("session", principal.SessionID))

	// Join first so an event raised right after connect_ok is not missed.
	leave := h.Hub.Join(principal.ID, peer)
	defer leave()

	ident := identityResponse(principal.Identity)
	if err := peer.send(authsdk.ServerFrame{Type: authsdk.FrameConnectOK, Identity: ident}); err != nil {
		return
	}
	log.Info("websocket connected")

	limiter := h.Config.limiter()
	decodeErrors := 0

	for {
		var frame authsdk.ClientFrame
		if err := websocket.JSON.Receive(conn, &frame); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				decodeErrors++
				_ = peer.sendError("", authsdk.ErrInvalidRequest.WithDescription("invalid frame payload"))
				if decodeErrors >= maxDecodeErrors {
					return
				}
				continue
			}
			if !errors.Is(err, io.EOF) {
				log.Debug("websocket read ended", "err", err)
			}
			return
		}
		decodeErrors = 0

		if !limiter.Allow() {
			_ = peer.sendError(frame.ID, authsdk.ErrRateLimited)
			continue
		}

		// Access tokens are not re-checked per frame, but an expired one
		// ends the connection.
		if time.Now().After(principal.ExpiresAt) {
			_ = peer.sendError(frame.ID, authsdk.ErrTokenExpired)
			return
		}

		switch frame.Type {
		case authsdk.FramePing:
			err = peer.send(authsdk.ServerFrame{Type: authsdk.FramePong, ID: frame.ID})
		case authsdk.FrameWhoAmI:
			err = peer.send(authsdk.ServerFrame{Type: authsdk.FrameIdentity, ID: frame.ID, Identity: ident})
		case authsdk.FrameConnect:
			err = peer.sendError(frame.ID, authsdk.ErrInvalidRequest.WithDescription("already connected"))
		default:
			err = peer.sendError(frame.ID, authsdk.ErrInvalidRequest.WithDescription("unsupported frame type"))
		}
		if err != nil {
			return
		}
	}
}

// handshake reads the connect frame and authenticates it.
func (h *WSHandler) handshake(conn *websocket.Conn, req *http.Request) (domain.Principal, error) {
	_ = conn.SetReadDeadline(time.Now().Add(h.Config.handshakeTimeout()))

	var frame authsdk.ClientFrame
	if err := websocket.JSON.Receive(conn, &frame); err != nil {
		return domain.Principal{}, err
	}
	if frame.Type != authsdk.FrameConnect {
		return domain.Principal{}, authsdk.ErrInvalidRequest.WithDescription("first frame must be connect")
	}
	_ = conn.SetReadDeadline(time.Time{})

	raw, err := httpx.ExtractToken(httpx.HandshakeView(req, frame.Auth))
	if err != nil {
		return domain.Principal{}, authsdk.ErrInvalidToken.WithDescription("missing token")
	}

	principal, err := h.TokenService.Authenticate(req.Context(), raw)
	if err != nil {
		apiErr, _ := apiError(err)
		return domain.Principal{}, apiErr
	}
	return principal, nil
}

// wsPeer serialises writes to one connection; the hub pushes from other
// goroutines.
type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
	sid  string
}

var _ realtime.Peer = (*wsPeer)(nil)

func (p *wsPeer) SessionID() string { return p.sid }

func (p *wsPeer) Push(ev domain.Event) error {
	return p.send(authsdk.ServerFrame{Type: authsdk.FrameEvent, Event: eventResponse(ev)})
}

func (p *wsPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.Close()
}

func (p *wsPeer) send(frame authsdk.ServerFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return websocket.JSON.Send(p.conn, frame)
}

func (p *wsPeer) sendError(id string, e *authsdk.APIError) error {
	return p.send(authsdk.ServerFrame{
		Type:  authsdk.FrameError,
		ID:    id,
		Error: &authsdk.ErrorResponse{Error: e.Code, ErrorDescription: e.Description},
	})
}
