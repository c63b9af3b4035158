// Package protocol defines the wire contract between the streaming client and
// server: the socket path, close codes and transcript messages.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// StreamPath is the route pattern of the streaming endpoint.
const StreamPath = "/ws/stt/{lang}"

const streamPrefix = "/ws/stt/"

// Close codes used on the streaming socket.
const (
	CloseNormal              = 1000
	CloseGoingAway           = 1001
	CloseUnsupportedData     = 1003
	CloseUnsupportedLanguage = 1008
	CloseInternalError       = 1011
)

// InternalErrorReason is the only detail sent to clients on server failures.
const InternalErrorReason = "internal server error"

// ShutdownReason accompanies CloseGoingAway when the server stops.
const ShutdownReason = "server shutting down"

const maxLanguageCode = 10

var ErrUnknownMessage = errors.New("protocol: message has neither partial nor text")

// ValidLanguageCode reports whether code is 1 to 10 characters long.
func ValidLanguageCode(code string) bool {
	n := len([]rune(code))
	return n >= 1 && n <= maxLanguageCode && !strings.ContainsAny(code, "/?#")
}

// UnsupportedLanguageReason is the close reason for an unknown language.
func UnsupportedLanguageReason(code string) string {
	return fmt.Sprintf("Unsupported language: %s", code)
}

// StreamURL builds the websocket URL for lang on the server at base. base may
// be a bare host:port, an http(s) URL or a ws(s) URL.
func StreamURL(base, lang string) (string, error) {
	if !ValidLanguageCode(lang) {
		return "", fmt.Errorf("invalid language code %q", lang)
	}
	base = strings.TrimSpace(base)
	if !strings.Contains(base, "://") {
		base = "ws://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + streamPrefix + url.PathEscape(lang)
	return u.String(), nil
}

// Kind tags a ResultMessage.
type Kind int

const (
	KindPartial Kind = iota + 1
	KindFinal
)

func (k Kind) String() string {
	switch k {
	case KindPartial:
		return "partial"
	case KindFinal:
		return "final"
	default:
		return "unknown"
	}
}

// ResultMessage is a transcript event. Partial supersedes the previous
// partial; Final closes an utterance.
type ResultMessage struct {
	Kind Kind
	Text string
}

func Partial(text string) ResultMessage {
	return ResultMessage{Kind: KindPartial, Text: text}
}

func Final(text string) ResultMessage {
	return ResultMessage{Kind: KindFinal, Text: text}
}

type partialWire struct {
	Partial string `json:"partial"`
}

type finalWire struct {
	Text string `json:"text"`
}

// Encode renders m as {"partial": text} or {"text": text}.
func (m ResultMessage) Encode() ([]byte, error) {
	switch m.Kind {
	case KindPartial:
		return json.Marshal(partialWire{Partial: m.Text})
	case KindFinal:
		return json.Marshal(finalWire{Text: m.Text})
	default:
		return nil, fmt.Errorf("encode result: unknown kind %d", m.Kind)
	}
}

// Decode parses a server message, telling kinds apart by which key is present.
func Decode(data []byte) (ResultMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return ResultMessage{}, fmt.Errorf("decode result: %w", err)
	}
	if v, ok := raw["partial"]; ok {
		var text string
		if err := json.Unmarshal(v, &text); err != nil {
			return ResultMessage{}, fmt.Errorf("decode partial: %w", err)
		}
		return Partial(text), nil
	}
	if v, ok := raw["text"]; ok {
		var text string
		if err := json.Unmarshal(v, &text); err != nil {
			return ResultMessage{}, fmt.Errorf("decode text: %w", err)
		}
		return Final(text), nil
	}
	return ResultMessage{}, ErrUnknownMessage
}
