package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const correctorSystemPrompt = `You restore punctuation and capitalisation in speech recognition transcripts.

Rules:
- Keep every word and its order. Do not translate, summarise or add content.
- Only add punctuation and fix letter case for the transcript's language (%s).
- Reply with the corrected transcript only, no quotes or commentary.`

type CorrectorConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// EinoCorrector asks an OpenAI-compatible chat model to punctuate transcripts.
type EinoCorrector struct {
	chat model.BaseChatModel
}

func NewEinoCorrector(ctx context.Context, cfg CorrectorConfig) (*EinoCorrector, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("journal: corrector api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("journal: corrector model is required")
	}
	chat, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	return NewCorrectorWithModel(chat), nil
}

// NewCorrectorWithModel wraps an existing chat model.
func NewCorrectorWithModel(chat model.BaseChatModel) *EinoCorrector {
	return &EinoCorrector{chat: chat}
}

// Correct returns the punctuated transcript. Empty or unusable replies keep
// the original text.
func (c *EinoCorrector) Correct(ctx context.Context, lang, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	msg, err := c.chat.Generate(ctx, []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(correctorSystemPrompt, lang)),
		schema.UserMessage(text),
	})
	if err != nil {
		return text, fmt.Errorf("generate correction: %w", err)
	}
	if msg == nil {
		return text, nil
	}
	out := strings.Trim(strings.TrimSpace(msg.Content), `"`)
	if out == "" || len(strings.Fields(out)) != len(strings.Fields(text)) {
		// The model changed the wording; keep what was recognized.
		return text, nil
	}
	return out, nil
}
