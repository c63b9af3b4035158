package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/liuscraft/orion-stt/internal/asr"
	"github.com/liuscraft/orion-stt/internal/logging"
	"github.com/liuscraft/orion-stt/internal/observe"
	"github.com/liuscraft/orion-stt/internal/protocol"
)

const defaultMaxMessageBytes = 1 << 20

// Languages is the model registry as seen by the handler.
type Languages interface {
	HasLanguage(code string) bool
	AcquireRecognizer(code string) (asr.Recognizer, error)
	Languages() []string
}

// Rejection reasons recorded in metrics.
const (
	rejectUpgrade  = "upgrade"
	rejectLanguage = "unsupported_language"
	rejectEngine   = "engine"
	rejectDraining = "draining"
)

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Session         SessionConfig
	MaxMessageBytes int64
	// AllowedOrigins restricts the Origin header. Empty allows any origin.
	AllowedOrigins []string
	Metrics        *observe.Metrics
	Recorder       TranscriptRecorder
}

// Handler upgrades /ws/stt/{lang} requests and runs one Session per socket.
type Handler struct {
	registry Languages
	opts     HandlerOptions
	upgrader websocket.Upgrader
	tracker  *Tracker
	draining *atomic.Bool
	metrics  *observe.Metrics
}

func NewHandler(registry Languages, tracker *Tracker, draining *atomic.Bool, opts HandlerOptions) *Handler {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessageBytes
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	if draining == nil {
		draining = new(atomic.Bool)
	}
	h := &Handler{
		registry: registry,
		opts:     opts,
		tracker:  tracker,
		draining: draining,
		metrics:  opts.Metrics,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(h.opts.AllowedOrigins, origin)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lang := r.PathValue("lang")
	if h.draining.Load() {
		h.metrics.RecordRejection(r.Context(), rejectDraining)
		http.Error(w, protocol.ShutdownReason, http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.metrics.RecordRejection(r.Context(), rejectUpgrade)
		logging.Warnf("websocket upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(h.opts.MaxMessageBytes)

	info := ConnInfo{ID: uuid.NewString(), Lang: lang, Remote: r.RemoteAddr}
	log := logging.With("conn_id", info.ID, "lang", lang, "remote", info.Remote)
	state := newStateMachine()

	// 语言校验必须在分配识别器之前完成
	if !protocol.ValidLanguageCode(lang) || !h.registry.HasLanguage(lang) {
		log.Warnf("rejecting unsupported language")
		h.reject(conn, state, info, rejectLanguage, protocol.CloseUnsupportedLanguage, protocol.UnsupportedLanguageReason(lang))
		return
	}

	rec, err := h.registry.AcquireRecognizer(lang)
	if err != nil {
		if errors.Is(err, asr.ErrUnknownLanguage) {
			h.reject(conn, state, info, rejectLanguage, protocol.CloseUnsupportedLanguage, protocol.UnsupportedLanguageReason(lang))
			return
		}
		log.Errorf("acquire recognizer: %v", err)
		h.reject(conn, state, info, rejectEngine, protocol.CloseInternalError, protocol.InternalErrorReason)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	unregister, ok := h.tracker.Register(info.ID, Handle{Cancel: cancel})
	if !ok {
		if err := rec.Close(); err != nil {
			log.Warnf("release recognizer: %v", err)
		}
		h.reject(conn, state, info, rejectDraining, protocol.CloseGoingAway, protocol.ShutdownReason)
		return
	}
	defer unregister()
	if h.draining.Load() {
		cancel()
	}

	session := newSession(conn, rec, state, info, h.opts.Session, h.metrics, h.opts.Recorder)
	if err := session.Run(ctx); err != nil {
		log.Debugf("session ended with error: %v", err)
	}
}

// reject closes an upgraded connection that never became an active session.
func (h *Handler) reject(conn *websocket.Conn, state *stateMachine, info ConnInfo, reason string, code int, text string) {
	state.Transition(StateClosed)
	h.metrics.SessionRejected(context.Background(), info.Lang, reason)

	deadline := time.Now().Add(defaultWriteTimeout)
	msg := websocket.FormatCloseMessage(code, text)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		logging.Debugf("write close frame: %v", err)
	}
	conn.Close()
}

// ActiveSessions returns the number of live sessions.
func (h *Handler) ActiveSessions() int {
	return h.tracker.Count()
}
