// Package client streams captured audio to the STT server and delivers the
// transcripts it sends back.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/liuscraft/orion-stt/internal/audio"
	"github.com/liuscraft/orion-stt/internal/logging"
	"github.com/liuscraft/orion-stt/internal/protocol"
)

const (
	DefaultFinalWait    = time.Second
	defaultWriteTimeout = 5 * time.Second
)

// State is the client session lifecycle.
type State int32

const (
	StateIdle State = iota
	StateConnected
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnected:
		return "Connected"
	case StateDraining:
		return "Draining"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// AudioSource is the capture side of a session.
type AudioSource interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Options configures a Session.
type Options struct {
	// URL is the full websocket URL, see protocol.StreamURL.
	URL      string
	Source   AudioSource
	Pipeline *audio.Pipeline
	Handler  ResultHandler
	// FinalWait is how long the receiver keeps listening after the source
	// ran out, so trailing finals still arrive.
	FinalWait    time.Duration
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
}

// Session owns one streaming connection: capture, sender and receiver.
type Session struct {
	opts  Options
	log   *logging.Logger
	state atomic.Int32

	closing    atomic.Bool
	sourceDone atomic.Bool
	// remoteClosed is set when the server ended the stream with 1000 or 1001.
	remoteClosed atomic.Bool
	sentFrames atomic.Int64
}

func NewSession(opts Options) (*Session, error) {
	if opts.Source == nil || opts.Pipeline == nil {
		return nil, errors.New("client: source and pipeline are required")
	}
	if opts.Handler == nil {
		opts.Handler = &Transcript{}
	}
	if opts.FinalWait <= 0 {
		opts.FinalWait = DefaultFinalWait
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Session{
		opts: opts,
		log:  logging.With("server", opts.URL),
	}, nil
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.log.Debugf("client session -> %s", st)
}

// SentFrames returns how many frames went out on the socket.
func (s *Session) SentFrames() int64 {
	return s.sentFrames.Load()
}

// Run connects, streams until the source ends, the server goes away or ctx
// is canceled, then tears everything down in order. The source is closed
// before Run returns.
func (s *Session) Run(ctx context.Context) error {
	conn, _, err := s.opts.Dialer.DialContext(ctx, s.opts.URL, nil)
	if err != nil {
		s.closeSource()
		s.setState(StateClosed)
		return fmt.Errorf("connect %s: %w", s.opts.URL, err)
	}
	s.setState(StateConnected)
	s.log.Infof("connected")

	queue := s.opts.Pipeline.Queue()
	captureCtx, stopCapture := context.WithCancel(context.Background())
	defer stopCapture()

	captureDone := make(chan struct{})
	senderDone := make(chan struct{})
	receiverDone := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		defer close(captureDone)
		s.capture(captureCtx, queue)
		return nil
	})
	g.Go(func() error {
		defer close(senderDone)
		return s.send(conn, queue)
	})
	g.Go(func() error {
		defer close(receiverDone)
		return s.receive(conn)
	})

	select {
	case <-ctx.Done():
		s.log.Infof("shutdown requested")
	case <-senderDone:
	case <-receiverDone:
	}
	s.setState(StateDraining)

	// 关闭顺序：停止采集 -> 队列哨兵 -> 发送端排空 -> 关闭帧 -> 取消接收 -> 关闭连接
	stopCapture()
	<-captureDone
	s.closeSource()
	queue.Stop()
	<-senderDone

	if s.sourceDone.Load() && ctx.Err() == nil {
		timer := time.NewTimer(s.opts.FinalWait)
		select {
		case <-receiverDone:
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
	}

	s.closing.Store(true)
	deadline := time.Now().Add(s.opts.WriteTimeout)
	msg := websocket.FormatCloseMessage(protocol.CloseNormal, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.log.Debugf("write close frame: %v", err)
	}
	conn.SetReadDeadline(time.Now())
	<-receiverDone

	conn.Close()
	err = g.Wait()
	s.setState(StateClosed)

	stats := s.opts.Pipeline.Stats()
	s.log.Infof("session closed: frames=%d sent=%d gated=%d muted=%d dropped=%d",
		stats.Frames, s.sentFrames.Load(), stats.Gated, stats.Muted, stats.Dropped)
	return err
}

// capture reads blocks until the source ends or ctx is canceled. It stops
// the queue on exit so the sender can drain.
func (s *Session) capture(ctx context.Context, queue *audio.TransmissionQueue) {
	defer queue.Stop()
	for {
		block, err := s.opts.Source.Read(ctx)
		switch {
		case err == nil:
			s.opts.Pipeline.Process(block)
		case errors.Is(err, audio.ErrMalformedBlock):
			s.log.Warnf("skipping malformed audio block")
		case ctx.Err() != nil:
			return
		case errors.Is(err, io.EOF):
			s.log.Infof("audio source finished")
			s.sourceDone.Store(true)
			return
		default:
			s.log.Errorf("audio capture failed: %v", err)
			s.sourceDone.Store(true)
			return
		}
	}
}

func (s *Session) closeSource() {
	if err := s.opts.Source.Close(); err != nil {
		s.log.Debugf("close audio source: %v", err)
	}
}

// send drains the queue onto the socket until the stop sentinel.
func (s *Session) send(conn *websocket.Conn, queue *audio.TransmissionQueue) error {
	for {
		item, err := queue.Dequeue(context.Background())
		if errors.Is(err, audio.ErrQueueStopped) || item.Stop {
			return nil
		}
		if err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, item.Frame); err != nil {
			// 对端已关闭时写失败属于正常结束，关闭原因由接收端上报
			if s.closing.Load() || s.remoteClosed.Load() || errors.Is(err, websocket.ErrCloseSent) {
				s.log.Debugf("stop sending: %v", err)
				return nil
			}
			return fmt.Errorf("send audio: %w", err)
		}
		s.sentFrames.Add(1)
	}
}

// receive dispatches server messages until the connection ends.
func (s *Session) receive(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return s.receiveEnded(err)
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			s.log.Warnf("ignoring malformed message %q: %v", data, err)
			continue
		}
		switch msg.Kind {
		case protocol.KindPartial:
			s.opts.Handler.OnPartial(msg.Text)
		case protocol.KindFinal:
			s.opts.Handler.OnFinal(msg.Text)
		}
	}
}

func (s *Session) receiveEnded(err error) error {
	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway):
		s.remoteClosed.Store(true)
		s.log.Infof("server closed the stream: %d %s", ce.Code, ce.Text)
		return nil
	case errors.As(err, &ce):
		return fmt.Errorf("server closed the stream (%d): %s", ce.Code, ce.Text)
	case s.closing.Load():
		return nil
	default:
		return fmt.Errorf("receive: %w", err)
	}
}
