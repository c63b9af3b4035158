package asr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/liuscraft/orion-stt/internal/logging"
)

const (
	defaultDashScopeEndpoint = "wss://dashscope.aliyuncs.com/api-ws/v1/inference"
	defaultDashScopeModel    = "fun-asr-realtime"
	defaultStartTimeout      = 10 * time.Second
	defaultFinishTimeout     = 2 * time.Second
)

var ErrAPIKeyRequired = errors.New("asr: DASHSCOPE_API_KEY is required")

// DashScopeConfig configures the DashScope realtime recognition backend.
type DashScopeConfig struct {
	APIKey   string
	Endpoint string
	// Model is used for languages whose model entry is empty.
	Model                      string
	VocabularyID               string
	SemanticPunctuationEnabled *bool
	MaxSentenceSilence         int
	// StartTimeout bounds dial plus run-task for every new recognizer.
	StartTimeout time.Duration
	// FinishTimeout bounds how long Close waits for task-finished.
	FinishTimeout time.Duration
	Dialer        *websocket.Dialer
}

func (c DashScopeConfig) withDefaults() DashScopeConfig {
	if c.Endpoint == "" {
		c.Endpoint = defaultDashScopeEndpoint
	}
	if c.Model == "" {
		c.Model = defaultDashScopeModel
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = defaultStartTimeout
	}
	if c.FinishTimeout <= 0 {
		c.FinishTimeout = defaultFinishTimeout
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	return c
}

// NewDashScopeModels returns one model per language. models maps a language
// code to a DashScope model name; an empty name selects cfg.Model. The
// language code is sent as the recognition language hint.
func NewDashScopeModels(models map[string]string, cfg DashScopeConfig) (map[string]Model, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrAPIKeyRequired
	}
	if len(models) == 0 {
		return nil, ErrNoModels
	}
	cfg = cfg.withDefaults()
	out := make(map[string]Model, len(models))
	for code, name := range models {
		name = strings.TrimSpace(name)
		if name == "" {
			name = cfg.Model
		}
		out[code] = &dashScopeModel{cfg: cfg, lang: code, model: name}
		logging.Infof("ASR: %s served by DashScope model %s", code, name)
	}
	return out, nil
}

// dashScopeModel holds no remote state; each recognizer runs its own task.
type dashScopeModel struct {
	cfg   DashScopeConfig
	lang  string
	model string
}

func (m *dashScopeModel) NewRecognizer(sampleRate float64) (Recognizer, error) {
	r := &dashScopeRecognizer{
		cfg:       m.cfg,
		lang:      m.lang,
		model:     m.model,
		rate:      int(sampleRate),
		taskID:    newTaskID(),
		startedCh: make(chan struct{}),
		doneCh:    make(chan struct{}),
		errCh:     make(chan error, 1),
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StartTimeout)
	defer cancel()
	if err := r.start(ctx); err != nil {
		r.closeConn()
		return nil, fmt.Errorf("dashscope start: %w", err)
	}
	return r, nil
}

func (m *dashScopeModel) Close() error { return nil }

// dashScopeRecognizer adapts the callback-driven realtime task to the
// synchronous Recognizer contract. The receiver goroutine caches results;
// the session goroutine reads them.
type dashScopeRecognizer struct {
	cfg    DashScopeConfig
	lang   string
	model  string
	rate   int
	taskID string

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	partial string
	begin   int64
	// finals holds ended sentences not yet taken by Result.
	finals []string
	// flushed is the begin time of a sentence FinalResult already returned;
	// later events of that sentence are dropped.
	flushed    int64
	hasFlushed bool
	err        error
	finishing  atomic.Bool

	startedCh   chan struct{}
	doneCh      chan struct{}
	errCh       chan error
	startedOnce sync.Once
	doneOnce    sync.Once
	closeOnce   sync.Once
	closeErr    error
}

func (r *dashScopeRecognizer) start(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	conn, _, err := r.cfg.Dialer.DialContext(ctx, r.cfg.Endpoint, header)
	if err != nil {
		return err
	}
	r.conn = conn

	if err := r.sendRunTask(); err != nil {
		return err
	}
	r.startReceiver()

	select {
	case <-r.startedCh:
		return nil
	case err := <-r.errCh:
		return err
	case <-r.doneCh:
		if err := r.failure(); err != nil {
			return err
		}
		return errors.New("task ended before it started")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *dashScopeRecognizer) AcceptWaveform(pcm []byte) (bool, error) {
	if err := r.failure(); err != nil {
		return false, err
	}
	if len(pcm) > 0 {
		if err := r.write(websocket.BinaryMessage, pcm); err != nil {
			return false, fmt.Errorf("dashscope send audio: %w", err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.finals) > 0, nil
}

func (r *dashScopeRecognizer) PartialResult() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.partial, nil
}

func (r *dashScopeRecognizer) Result() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	text := strings.Join(r.finals, " ")
	r.finals = nil
	return text, nil
}

// FinalResult returns ended sentences plus the in-progress one. The service
// keeps decoding that sentence, so its later updates are suppressed.
func (r *dashScopeRecognizer) FinalResult() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	parts := r.finals
	r.finals = nil
	if r.partial != "" {
		parts = append(parts, r.partial)
		r.flushed, r.hasFlushed = r.begin, true
		r.partial = ""
	}
	return strings.Join(parts, " "), nil
}

// Close finishes the task, waits briefly for task-finished and drops the
// connection. Results arriving after Close are discarded.
func (r *dashScopeRecognizer) Close() error {
	r.closeOnce.Do(func() {
		if r.failure() == nil && !r.isDone() {
			if err := r.sendFinishTask(); err == nil {
				timer := time.NewTimer(r.cfg.FinishTimeout)
				select {
				case <-r.doneCh:
				case <-timer.C:
					logging.Debugf("dashscope task %s: no task-finished within %s", r.taskID, r.cfg.FinishTimeout)
				}
				timer.Stop()
			}
		}
		r.closeErr = r.closeConn()
	})
	return r.closeErr
}

func (r *dashScopeRecognizer) closeConn() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func (r *dashScopeRecognizer) write(kind int, data []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.conn.WriteMessage(kind, data)
}

// failure returns the first error of the task; once set every later call
// fails with it.
func (r *dashScopeRecognizer) failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *dashScopeRecognizer) isDone() bool {
	select {
	case <-r.doneCh:
		return true
	default:
		return false
	}
}

func (r *dashScopeRecognizer) sendRunTask() error {
	params := map[string]any{
		"format":         "pcm",
		"sample_rate":    r.rate,
		"language_hints": []string{r.lang},
	}
	if r.cfg.VocabularyID != "" {
		params["vocabulary_id"] = r.cfg.VocabularyID
	}
	if r.cfg.SemanticPunctuationEnabled != nil {
		params["semantic_punctuation_enabled"] = *r.cfg.SemanticPunctuationEnabled
	}
	if r.cfg.MaxSentenceSilence > 0 {
		params["max_sentence_silence"] = r.cfg.MaxSentenceSilence
	}

	msg := taskMessage{
		Header: taskHeader{
			Action:    "run-task",
			TaskID:    r.taskID,
			Streaming: "duplex",
		},
		Payload: taskPayload{
			TaskGroup:  "audio",
			Task:       "asr",
			Function:   "recognition",
			Model:      r.model,
			Parameters: params,
			Input:      map[string]any{},
		},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.write(websocket.TextMessage, payload)
}

func (r *dashScopeRecognizer) sendFinishTask() error {
	r.finishing.Store(true)
	msg := taskMessage{
		Header: taskHeader{
			Action:    "finish-task",
			TaskID:    r.taskID,
			Streaming: "duplex",
		},
		Payload: taskPayload{Input: map[string]any{}},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.write(websocket.TextMessage, payload)
}

func (r *dashScopeRecognizer) startReceiver() {
	go func() {
		defer r.markDone()
		for {
			_, data, err := r.conn.ReadMessage()
			if err != nil {
				if !r.finishing.Load() {
					r.setErr(err)
				}
				return
			}
			var event taskMessage
			if err := json.Unmarshal(data, &event); err != nil {
				r.setErr(fmt.Errorf("decode event: %w", err))
				return
			}
			if r.handleEvent(event) {
				return
			}
		}
	}()
}

// handleEvent reports whether the task ended.
func (r *dashScopeRecognizer) handleEvent(event taskMessage) bool {
	switch event.Header.Event {
	case "task-started":
		r.startedOnce.Do(func() { close(r.startedCh) })
	case "result-generated":
		if event.Payload.Output == nil || event.Payload.Output.Sentence == nil {
			return false
		}
		sentence := event.Payload.Output.Sentence
		if sentence.Heartbeat {
			return false
		}
		r.applySentence(sentence)
	case "task-finished":
		if !r.finishing.Load() {
			r.setErr(errors.New("task finished by the service"))
		}
		return true
	case "task-failed":
		if event.Header.ErrorMessage != "" {
			r.setErr(fmt.Errorf("task failed: %s %s", event.Header.ErrorCode, event.Header.ErrorMessage))
		} else {
			r.setErr(errors.New("task failed"))
		}
		return true
	}
	return false
}

func (r *dashScopeRecognizer) applySentence(s *taskSentence) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasFlushed && s.BeginTime == r.flushed {
		if s.SentenceEnd {
			r.hasFlushed = false
		}
		return
	}
	text := strings.TrimSpace(s.Text)
	if s.SentenceEnd {
		if text != "" {
			r.finals = append(r.finals, text)
		}
		r.partial = ""
		return
	}
	r.partial = text
	r.begin = s.BeginTime
}

func (r *dashScopeRecognizer) setErr(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
	select {
	case r.errCh <- err:
	default:
	}
}

func (r *dashScopeRecognizer) markDone() {
	r.doneOnce.Do(func() { close(r.doneCh) })
}

type taskMessage struct {
	Header  taskHeader  `json:"header"`
	Payload taskPayload `json:"payload"`
}

type taskHeader struct {
	Action       string `json:"action,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
	Streaming    string `json:"streaming,omitempty"`
	Event        string `json:"event,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type taskPayload struct {
	TaskGroup  string         `json:"task_group,omitempty"`
	Task       string         `json:"task,omitempty"`
	Function   string         `json:"function,omitempty"`
	Model      string         `json:"model,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Input      map[string]any `json:"input"`
	Output     *taskOutput    `json:"output,omitempty"`
}

type taskOutput struct {
	Sentence *taskSentence `json:"sentence,omitempty"`
}

type taskSentence struct {
	BeginTime   int64  `json:"begin_time"`
	EndTime     *int64 `json:"end_time"`
	Text        string `json:"text"`
	Heartbeat   bool   `json:"heartbeat"`
	SentenceEnd bool   `json:"sentence_end"`
}

func newTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
