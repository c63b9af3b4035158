package protocol

import (
	"errors"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		msg  ResultMessage
		want string
	}{
		{Partial("xin chao"), `{"partial":"xin chao"}`},
		{Final("hello"), `{"text":"hello"}`},
	}
	for _, tt := range tests {
		got, err := tt.msg.Encode()
		if err != nil {
			t.Fatalf("encode %v: %v", tt.msg, err)
		}
		if string(got) != tt.want {
			t.Fatalf("encode %v = %s, want %s", tt.msg, got, tt.want)
		}
	}
	if _, err := (ResultMessage{}).Encode(); err == nil {
		t.Fatal("expected error for zero message")
	}
}

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{"partial": ""}`))
	if err != nil || msg != Partial("") {
		t.Fatalf("got %+v, %v", msg, err)
	}
	msg, err = Decode([]byte(`{"text": "done", "result": []}`))
	if err != nil || msg != Final("done") {
		t.Fatalf("got %+v, %v", msg, err)
	}
	if _, err := Decode([]byte(`{"other": 1}`)); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
	if _, err := Decode([]byte(`{"text": 5}`)); err == nil {
		t.Fatal("expected error for non-string text")
	}
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		base, lang, want string
	}{
		{"localhost:8000", "vi", "ws://localhost:8000/ws/stt/vi"},
		{"ws://localhost:8000", "en", "ws://localhost:8000/ws/stt/en"},
		{"https://stt.example.com/api/", "en", "wss://stt.example.com/api/ws/stt/en"},
	}
	for _, tt := range tests {
		got, err := StreamURL(tt.base, tt.lang)
		if err != nil {
			t.Fatalf("StreamURL(%q, %q): %v", tt.base, tt.lang, err)
		}
		if got != tt.want {
			t.Fatalf("StreamURL(%q, %q) = %q, want %q", tt.base, tt.lang, got, tt.want)
		}
	}
	if _, err := StreamURL("ftp://host", "en"); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
	if _, err := StreamURL("localhost:8000", ""); err == nil {
		t.Fatal("expected error for empty language")
	}
}

func TestValidLanguageCode(t *testing.T) {
	for code, want := range map[string]bool{
		"":            false,
		"en":          true,
		"vi":          true,
		"zh-cn":       true,
		"abcdefghij":  true,
		"abcdefghijk": false,
		"a/b":         false,
	} {
		if got := ValidLanguageCode(code); got != want {
			t.Errorf("ValidLanguageCode(%q) = %v, want %v", code, got, want)
		}
	}
	if got := UnsupportedLanguageReason("xx"); got != "Unsupported language: xx" {
		t.Fatalf("reason = %q", got)
	}
}
