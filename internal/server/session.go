package server

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liuscraft/orion-stt/internal/asr"
	"github.com/liuscraft/orion-stt/internal/journal"
	"github.com/liuscraft/orion-stt/internal/logging"
	"github.com/liuscraft/orion-stt/internal/observe"
	"github.com/liuscraft/orion-stt/internal/protocol"
)

const (
	DefaultReceiveTimeout = 350 * time.Millisecond
	defaultWriteTimeout   = 5 * time.Second
)

var (
	errShutdown  = errors.New("server shutting down")
	errTextFrame = errors.New("text frame on audio stream")
	errPanic     = errors.New("session panic")
)

// writeError marks a failed socket write; nothing more can be sent after it.
type writeError struct{ err error }

func (e *writeError) Error() string { return "write: " + e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// SessionConfig holds the per-connection timing knobs.
type SessionConfig struct {
	// ReceiveTimeout is how long the session waits for audio before it
	// finalizes the pending utterance.
	ReceiveTimeout time.Duration
	// PingInterval enables keep-alive pings when positive. A peer that sends
	// nothing, not even a pong, for PingInterval+PingTimeout is dropped.
	PingInterval time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = DefaultReceiveTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// TranscriptRecorder receives every final transcript. journal.Journal
// satisfies it.
type TranscriptRecorder interface {
	Record(e journal.Entry) bool
}

// ConnInfo identifies one accepted connection.
type ConnInfo struct {
	ID     string
	Lang   string
	Remote string
}

type receiveOutcome int

const (
	outcomeReceived receiveOutcome = iota
	outcomeTimedOut
	outcomeClosed
)

type inboundMessage struct {
	kind int
	data []byte
}

// Session turns the binary audio stream of one connection into partial and
// final transcript messages. It owns its recognizer and releases it when Run
// returns.
type Session struct {
	info     ConnInfo
	conn     *websocket.Conn
	rec      asr.Recognizer
	cfg      SessionConfig
	log      *logging.Logger
	metrics  *observe.Metrics
	recorder TranscriptRecorder

	state *stateMachine

	inbound    chan inboundMessage
	readErr    error
	readerDone chan struct{}
	done       chan struct{}

	pingerStop chan struct{}
	pingerWG   sync.WaitGroup

	started time.Time
}

func newSession(conn *websocket.Conn, rec asr.Recognizer, state *stateMachine, info ConnInfo, cfg SessionConfig, metrics *observe.Metrics, recorder TranscriptRecorder) *Session {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Session{
		info:       info,
		conn:       conn,
		rec:        rec,
		cfg:        cfg.withDefaults(),
		log:        logging.With("conn_id", info.ID, "lang", info.Lang, "remote", info.Remote),
		metrics:    metrics,
		recorder:   recorder,
		state:      state,
		inbound:    make(chan inboundMessage),
		readerDone: make(chan struct{}),
		done:       make(chan struct{}),
		pingerStop: make(chan struct{}),
	}
}

// Run serves the connection until the peer leaves, ctx is canceled or a
// fatal error occurs. Finalization runs on every exit path.
func (s *Session) Run(ctx context.Context) (err error) {
	s.state.Transition(StateActive)
	s.started = time.Now()
	s.metrics.SessionStarted(context.Background(), s.info.Lang)
	s.log.Infof("session started")

	s.startKeepAlive()
	go s.readLoop()

	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("session panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
		err = s.finalize(err)
	}()

	return s.loop(ctx)
}

func (s *Session) loop(ctx context.Context) error {
	for {
		msg, outcome := s.receive(ctx)
		switch outcome {
		case outcomeTimedOut:
			if err := s.finalizeUtterance(); err != nil {
				return err
			}
		case outcomeClosed:
			if ctx.Err() != nil {
				return errShutdown
			}
			s.logReadEnd()
			return nil
		case outcomeReceived:
			if msg.kind != websocket.BinaryMessage {
				return errTextFrame
			}
			if err := s.handleAudio(msg.data); err != nil {
				return err
			}
		}
	}
}

// receive waits at most ReceiveTimeout for the next message.
func (s *Session) receive(ctx context.Context) (inboundMessage, receiveOutcome) {
	timer := time.NewTimer(s.cfg.ReceiveTimeout)
	defer timer.Stop()

	select {
	case msg, ok := <-s.inbound:
		if !ok {
			return inboundMessage{}, outcomeClosed
		}
		return msg, outcomeReceived
	case <-timer.C:
		return inboundMessage{}, outcomeTimedOut
	case <-ctx.Done():
		return inboundMessage{}, outcomeClosed
	}
}

func (s *Session) handleAudio(data []byte) error {
	start := time.Now()
	boundary, err := s.rec.AcceptWaveform(data)
	s.metrics.RecordAudio(context.Background(), s.info.Lang, len(data), time.Since(start))
	if err != nil {
		return fmt.Errorf("accept waveform: %w", err)
	}

	partial, err := s.rec.PartialResult()
	if err != nil {
		return fmt.Errorf("partial result: %w", err)
	}
	if partial != "" {
		if err := s.emit(protocol.Partial(partial)); err != nil {
			return err
		}
	}

	if !boundary {
		return nil
	}
	text, err := s.rec.Result()
	if err != nil {
		return fmt.Errorf("result: %w", err)
	}
	if text == "" {
		return nil
	}
	s.log.Infof("final: %s", text)
	s.record(text)
	return s.emit(protocol.Final(text))
}

// finalizeUtterance flushes the recognizer after an idle gap. Nothing is sent
// when there is no pending speech.
func (s *Session) finalizeUtterance() error {
	text, err := s.rec.FinalResult()
	if err != nil {
		return fmt.Errorf("final result: %w", err)
	}
	if text == "" {
		return nil
	}
	s.log.Infof("final (idle): %s", text)
	s.record(text)
	return s.emit(protocol.Final(text))
}

func (s *Session) emit(msg protocol.ResultMessage) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return &writeError{err: err}
	}
	s.metrics.RecordResult(context.Background(), s.info.Lang, msg.Kind.String())
	return nil
}

func (s *Session) record(text string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(journal.Entry{
		ConnID: s.info.ID,
		Lang:   s.info.Lang,
		Remote: s.info.Remote,
		Text:   text,
		At:     time.Now(),
	})
}

// readLoop is the only reader of the socket.
func (s *Session) readLoop() {
	defer close(s.readerDone)
	defer close(s.inbound)

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr = err
			return
		}
		s.extendReadDeadline()
		select {
		case s.inbound <- inboundMessage{kind: kind, data: data}:
		case <-s.done:
			return
		}
	}
}

func (s *Session) startKeepAlive() {
	if s.cfg.PingInterval <= 0 {
		return
	}
	s.extendReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})

	s.pingerWG.Add(1)
	go func() {
		defer s.pingerWG.Done()
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(s.cfg.WriteTimeout)
				if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					s.log.Debugf("ping failed: %v", err)
					return
				}
			case <-s.pingerStop:
				return
			}
		}
	}()
}

func (s *Session) extendReadDeadline() {
	if s.cfg.PingInterval <= 0 {
		return
	}
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PingInterval + s.cfg.PingTimeout))
}

func (s *Session) logReadEnd() {
	err := s.readErr
	switch {
	case err == nil:
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		s.log.Debugf("client closed: %v", err)
	default:
		s.log.Infof("connection ended: %v", err)
	}
}

// finalize flushes pending speech, closes the socket with a code matching
// cause and releases the recognizer. It returns the error Run reports.
func (s *Session) finalize(cause error) error {
	s.state.Transition(StateFinalizing)
	close(s.pingerStop)
	s.pingerWG.Wait()

	text, err := s.safeFinalResult()
	if err != nil {
		s.log.Errorf("flush on close: %v", err)
		if cause == nil || errors.Is(cause, errShutdown) {
			cause = err
		}
	}
	if text != "" {
		s.log.Infof("final (on close): %s", text)
		s.record(text)
		if canWrite(cause) {
			if err := s.emit(protocol.Final(text)); err != nil {
				s.log.Debugf("send final on close: %v", err)
			}
		}
	}

	if code, reason, ok := closeFrameFor(cause); ok {
		deadline := time.Now().Add(s.cfg.WriteTimeout)
		msg := websocket.FormatCloseMessage(code, reason)
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			s.log.Debugf("write close frame: %v", err)
		}
	}

	close(s.done)
	s.conn.Close()
	<-s.readerDone

	if err := s.rec.Close(); err != nil {
		s.log.Warnf("release recognizer: %v", err)
	}
	s.state.Transition(StateClosed)

	status := observe.StatusCompleted
	var result error
	switch {
	case cause == nil, errors.Is(cause, errShutdown):
	default:
		status = observe.StatusError
		result = cause
		s.log.Errorf("session failed: %v", cause)
	}
	s.metrics.SessionEnded(context.Background(), s.info.Lang, status, time.Since(s.started))
	s.log.Infof("session closed after %s", time.Since(s.started).Round(time.Millisecond))
	return result
}

func (s *Session) safeFinalResult() (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return s.rec.FinalResult()
}

// canWrite reports whether the socket may still carry a message after the
// session ended with cause.
func canWrite(cause error) bool {
	if cause == nil {
		// peer already left
		return false
	}
	var we *writeError
	return !errors.As(cause, &we)
}

func closeFrameFor(cause error) (code int, reason string, ok bool) {
	var we *writeError
	switch {
	case cause == nil:
		return 0, "", false
	case errors.As(cause, &we):
		return 0, "", false
	case errors.Is(cause, errShutdown):
		return protocol.CloseGoingAway, protocol.ShutdownReason, true
	case errors.Is(cause, errTextFrame):
		return protocol.CloseUnsupportedData, "binary audio frames only", true
	default:
		return protocol.CloseInternalError, protocol.InternalErrorReason, true
	}
}

// State returns the current lifecycle state. Only meaningful from the
// goroutine running the session or after Run returned.
func (s *Session) State() SessionState {
	return s.state.Current()
}
