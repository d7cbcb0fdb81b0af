package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"marksort/backend/internal/cluster"
	"marksort/backend/internal/settings"
)

var ErrNamingDisabled = errors.New("ai naming disabled")

// Namer asks a Gemini text model for a folder name. It implements cluster.Namer.
type Namer struct {
	settingsSvc *settings.Service
	fallback    string
	clients     *clientCache
}

func NewNamer(svc *settings.Service, defaultModel string, opts ...option.ClientOption) *Namer {
	return &Namer{
		settingsSvc: svc,
		fallback:    defaultModel,
		clients:     &clientCache{opts: opts},
	}
}

func (n *Namer) Name(ctx context.Context, req cluster.NameRequest) (string, error) {
	s, err := n.settingsSvc.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get settings: %w", err)
	}
	if !s.AINamingEnabled {
		return "", ErrNamingDisabled
	}
	if s.GeminiAPIKey == "" {
		return "", ErrNotConfigured
	}
	modelName := s.NamingModel
	if modelName == "" {
		modelName = n.fallback
	}

	client, err := n.clients.get(ctx, s.GeminiAPIKey)
	if err != nil {
		return "", err
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.3)
	model.SetMaxOutputTokens(16)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}

	resp, err := model.GenerateContent(ctx, genai.Text(Prompt(req)))
	if err != nil {
		return "", err
	}
	return responseText(resp), nil
}

func (n *Namer) Close() error {
	return n.clients.Close()
}

const systemPrompt = "You name bookmark folders. Reply with the folder name only, at most 5 words, no quotes or punctuation."

// Prompt renders the naming request. Exported for tests and logging.
func Prompt(req cluster.NameRequest) string {
	var b strings.Builder

	switch req.Tone {
	case cluster.ToneClear:
		b.WriteString("Use a plain, descriptive name.\n")
	case cluster.TonePlayful:
		b.WriteString("Use a short, playful name that is still recognizable.\n")
	default:
		b.WriteString("Use a concise, natural name.\n")
	}
	switch req.Mode {
	case cluster.ModeCategory:
		b.WriteString("Prefer a broad category (for example Cooking, Programming) over a narrow topic.\n")
	default:
		b.WriteString("Prefer the specific shared topic over a broad category.\n")
	}
	b.WriteString("Avoid generic names like Misc, Other, General or Bookmarks.\n\nBookmarks:\n")

	for _, s := range req.Samples {
		b.WriteString("- ")
		b.WriteString(s.Title)
		if s.Domain != "" {
			b.WriteString(" (")
			b.WriteString(s.Domain)
			b.WriteString(")")
		}
		if s.Description != "" {
			desc := s.Description
			if r := []rune(desc); len(r) > 160 {
				desc = string(r[:160])
			}
			b.WriteString(": ")
			b.WriteString(desc)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		var b strings.Builder
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return ""
}
