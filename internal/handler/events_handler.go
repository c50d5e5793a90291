package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/creatorlink/internal/debounce"
	"github.com/hitoshi/creatorlink/internal/gate"
	"github.com/hitoshi/creatorlink/internal/metrics"
	"github.com/hitoshi/creatorlink/internal/middleware"
	"github.com/hitoshi/creatorlink/internal/model"
	"github.com/hitoshi/creatorlink/internal/session"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
	wsReadLimit      = 4096
	wsDecideTimeout  = 5 * time.Second
	defaultDebounce  = 500 * time.Millisecond
	wsUnknownMessage = "Unknown message type"
)

// クライアントから受け取るメッセージ種別
const (
	msgCheckUsername = "check_username"
	msgRefresh       = "refresh"
	msgNavigate      = "navigate"
	msgSignOut       = "signout"
)

// EventsConfig はWebSocketハンドラーの設定。
type EventsConfig struct {
	UsernameDebounce time.Duration
	AllowedOrigin    string      // 空の場合は同一オリジンのみ許可
	OnSignOutError   func(error) // nil可
}

// EventsHandler は認証状態の変化をWebSocketで配信する。
// 接続ごとにセッションストアとユーザー名確認用のDebouncerを持ち、接続終了時に必ず解放する。
type EventsHandler struct {
	identity  session.IdentityService
	resolver  *gate.Resolver
	usernames UsernameChecker
	metrics   metrics.MetricsCollector
	upgrader  websocket.Upgrader
	config    EventsConfig
}

// NewEventsHandler はEventsHandlerを生成する。collectorはnil可。
func NewEventsHandler(
	identity session.IdentityService,
	resolver *gate.Resolver,
	usernames UsernameChecker,
	collector metrics.MetricsCollector,
	config EventsConfig,
) *EventsHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if config.UsernameDebounce <= 0 {
		config.UsernameDebounce = defaultDebounce
	}

	upgrader := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if config.AllowedOrigin != "" {
		allowed := config.AllowedOrigin
		upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origin == allowed || sameHost(origin, r.Host)
		}
	}

	return &EventsHandler{
		identity:  identity,
		resolver:  resolver,
		usernames: usernames,
		metrics:   collector,
		upgrader:  upgrader,
		config:    config,
	}
}

type clientMessage struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Path     string `json:"path,omitempty"`
}

type stateMessage struct {
	Type     string     `json:"type"`
	State    gate.State `json:"state"`
	UserID   string     `json:"user_id,omitempty"`
	Username string     `json:"username,omitempty"`
	Error    string     `json:"error,omitempty"`
}

type usernameMessage struct {
	Type string `json:"type"`
	usernameAvailability
}

type decisionMessage struct {
	Type       string `json:"type"`
	Path       string `json:"path"`
	Allow      bool   `json:"allow"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func newStateMessage(snap gate.Snapshot) stateMessage {
	msg := stateMessage{
		Type:   "state",
		State:  snap.State,
		UserID: snap.UserID(),
		Error:  snap.ErrorMessage(),
	}
	if snap.Profile != nil {
		msg.Username = snap.Profile.Username
	}
	return msg
}

func newErrorMessage(err error) errorMessage {
	if apiErr := model.ToAPIError(err); apiErr != nil {
		return errorMessage{Type: "error", Code: apiErr.Code, Message: apiErr.Message}
	}
	slog.Error("websocket request failed", slog.String("error", err.Error()))
	return errorMessage{Type: "error", Message: "Internal error"}
}

// wsConn は書き込みを直列化したWebSocket接続。
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// Handle はWebSocket接続を受け付け、切断まで状態変化とクライアントの要求を処理する。
// GET /api/auth/events
func (h *EventsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	h.metrics.WebSocketOpened()
	defer h.metrics.WebSocketClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsConn{conn: conn}

	var opts []session.Option
	if h.config.OnSignOutError != nil {
		opts = append(opts, session.WithSignOutErrorHandler(h.config.OnSignOutError))
	}
	tracker := gate.NewTracker(session.NewStore(h.identity, middleware.SessionToken(r), opts...), h.resolver)
	defer tracker.Close()

	debouncer := debounce.New(h.config.UsernameDebounce)
	defer debouncer.Stop()

	// 初回の状態を送るまで変化の通知は待たせる
	initialSent := make(chan struct{})
	snap := tracker.Init(ctx, func(s gate.Snapshot) {
		<-initialSent
		if err := c.send(newStateMessage(s)); err != nil {
			cancel()
		}
	})
	err = c.send(newStateMessage(snap))
	close(initialSent)
	if err != nil {
		return
	}

	go h.keepAlive(ctx, c)

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		h.dispatch(ctx, c, tracker, debouncer, msg)
	}
}

func (h *EventsHandler) dispatch(ctx context.Context, c *wsConn, tracker *gate.Tracker, debouncer *debounce.Debouncer, msg clientMessage) {
	switch msg.Type {
	case msgCheckUsername:
		username := strings.TrimSpace(msg.Username)
		debouncer.Call(func() {
			result, err := checkUsername(ctx, h.usernames, username)
			if err != nil {
				_ = c.send(newErrorMessage(err))
				return
			}
			h.metrics.RecordUsernameCheck(result.Available)
			_ = c.send(usernameMessage{Type: "username", usernameAvailability: result})
		})

	case msgRefresh:
		// 結果はInitで登録したコールバック経由で送られる
		tracker.Refresh(ctx)

	case msgNavigate:
		dctx, dcancel := context.WithTimeout(ctx, wsDecideTimeout)
		d, err := tracker.Decide(dctx, msg.Path)
		dcancel()
		if err != nil {
			_ = c.send(newErrorMessage(err))
			return
		}
		_ = c.send(decisionMessage{Type: "decision", Path: msg.Path, Allow: d.Allow, RedirectTo: d.Redirect})

	case msgSignOut:
		tracker.SignOut(ctx)

	default:
		_ = c.send(errorMessage{Type: "error", Message: wsUnknownMessage})
	}
}

func (h *EventsHandler) keepAlive(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

func sameHost(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}
