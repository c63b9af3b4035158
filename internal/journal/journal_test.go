package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func decodeLines(t *testing.T, data string) []Entry {
	t.Helper()
	var out []Entry
	sc := bufio.NewScanner(strings.NewReader(data))
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

type upperCorrector struct{}

func (upperCorrector) Correct(_ context.Context, _ string, text string) (string, error) {
	return strings.ToUpper(text[:1]) + text[1:] + ".", nil
}

type failingCorrector struct{}

func (failingCorrector) Correct(context.Context, string, string) (string, error) {
	return "", errors.New("llm down")
}

func TestJournalWritesEntriesInOrder(t *testing.T) {
	var buf syncBuffer
	j := New(&buf, Options{})

	for _, text := range []string{"one", "two", "three"} {
		if !j.Record(Entry{ConnID: "c1", Lang: "en", Text: text}) {
			t.Fatalf("record %q dropped", text)
		}
	}
	if err := j.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries := decodeLines(t, buf.String())
	if len(entries) != 3 {
		t.Fatalf("wrote %d entries, want 3", len(entries))
	}
	for i, want := range []string{"one", "two", "three"} {
		if entries[i].Text != want || entries[i].At.IsZero() {
			t.Fatalf("entry %d = %+v", i, entries[i])
		}
	}
	if j.Record(Entry{Text: "late"}) {
		t.Fatal("record after close must be rejected")
	}
	if err := j.Close(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("second close = %v, want ErrClosed", err)
	}
}

func TestJournalCorrector(t *testing.T) {
	var buf syncBuffer
	j := New(&buf, Options{Corrector: upperCorrector{}})
	j.Record(Entry{ConnID: "c1", Lang: "en", Text: "hello there"})
	j.Close(context.Background())

	entries := decodeLines(t, buf.String())
	if len(entries) != 1 || entries[0].Corrected != "Hello there." || entries[0].Text != "hello there" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	var failed syncBuffer
	j = New(&failed, Options{Corrector: failingCorrector{}})
	j.Record(Entry{ConnID: "c2", Lang: "en", Text: "kept"})
	j.Close(context.Background())
	entries = decodeLines(t, failed.String())
	if len(entries) != 1 || entries[0].Corrected != "" || entries[0].Text != "kept" {
		t.Fatalf("failed correction must keep text: %+v", entries)
	}
}

type blockingCorrector struct {
	release chan struct{}
}

func (c blockingCorrector) Correct(ctx context.Context, _ string, text string) (string, error) {
	select {
	case <-c.release:
	case <-ctx.Done():
	}
	return text, nil
}

func TestJournalDropsWhenFull(t *testing.T) {
	var buf syncBuffer
	release := make(chan struct{})
	drops := 0
	j := New(&buf, Options{
		QueueSize: 1,
		Corrector: blockingCorrector{release: release},
		OnDrop:    func() { drops++ },
	})

	j.Record(Entry{Text: "first"})
	// Wait for the worker to pick up the first entry and block.
	deadline := time.Now().Add(time.Second)
	for len(j.entries) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Record(Entry{Text: "second"})
		j.Record(Entry{Text: "third"})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}
	if drops != 1 {
		t.Fatalf("drops = %d, want 1", drops)
	}

	close(release)
	j.Close(context.Background())
	if n := len(decodeLines(t, buf.String())); n != 2 {
		t.Fatalf("wrote %d entries, want 2", n)
	}
}

func TestOpenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "transcripts.jsonl")
	for _, text := range []string{"a", "b"} {
		j, err := Open(path, Options{})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		j.Record(Entry{Text: text})
		if err := j.Close(context.Background()); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := len(decodeLines(t, string(data))); n != 2 {
		t.Fatalf("file has %d entries, want 2", n)
	}
}

type fakeChatModel struct {
	reply string
	err   error
	input []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestEinoCorrector(t *testing.T) {
	chat := &fakeChatModel{reply: `"Xin chào, bạn khỏe không?"`}
	c := NewCorrectorWithModel(chat)

	got, err := c.Correct(context.Background(), "vi", "xin chào bạn khỏe không")
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if got != "Xin chào, bạn khỏe không?" {
		t.Fatalf("got %q", got)
	}
	if len(chat.input) != 2 || chat.input[0].Role != schema.System || !strings.Contains(chat.input[0].Content, "(vi)") {
		t.Fatalf("unexpected prompt %+v", chat.input)
	}

	chat.reply = "a completely different sentence here now"
	if got, _ := c.Correct(context.Background(), "en", "hi there"); got != "hi there" {
		t.Fatalf("reworded reply must be ignored, got %q", got)
	}

	chat.err = errors.New("timeout")
	if got, err := c.Correct(context.Background(), "en", "hi there"); err == nil || got != "hi there" {
		t.Fatalf("got %q, %v", got, err)
	}

	if _, err := NewEinoCorrector(context.Background(), CorrectorConfig{Model: "m"}); err == nil {
		t.Fatal("expected error without api key")
	}
}
