package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emrgen/panelcraft/internal/model"
	"github.com/sirupsen/logrus"
)

const (
	DefaultGeminiModel = "gemini-2.0-flash"
	defaultGeminiURL   = "https://generativelanguage.googleapis.com/v1beta"
)

var errEmptyResponse = errors.New("gemini returned no candidates")

// Gemini calls the Google generative language REST API.
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

var _ Suggester = (*Gemini)(nil)

func NewGemini(apiKey, model string) *Gemini {
	if model == "" {
		model = DefaultGeminiModel
	}

	return &Gemini{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultGeminiURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents          []content      `json:"contents"`
	SystemInstruction *content       `json:"systemInstruction,omitempty"`
	GenerationConfig  map[string]any `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) generate(ctx context.Context, system, prompt string, config map[string]any) (string, error) {
	req := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: config,
	}
	if system != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("gemini: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 {
		return "", errEmptyResponse
	}

	var text strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	return text.String(), nil
}

func (g *Gemini) SuggestPanel(ctx context.Context, previous string, characters []string) *model.PanelDraft {
	prompt := fmt.Sprintf("Based on this script context: %q, suggest the next panel's action, dialogues, and caption.", previous)
	if len(characters) > 0 {
		prompt += fmt.Sprintf(" Available characters: %s. Use these characters if appropriate.", strings.Join(characters, ", "))
	}

	text, err := g.generate(ctx, "", prompt, map[string]any{
		"temperature":      0.7,
		"responseMimeType": "application/json",
	})
	if err != nil {
		logrus.Warnf("assist: panel suggestion failed: %v", err)
		return nil
	}

	var draft model.PanelDraft
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &draft); err != nil {
		logrus.Warnf("assist: malformed panel suggestion: %v", err)
		return nil
	}

	return &draft
}

func (g *Gemini) Refine(ctx context.Context, text string, field Field, characters []string) string {
	system := fmt.Sprintf("You are a professional comic book script consultant. Your goal is to refine %s for a comic panel.", field)
	if len(characters) > 0 {
		system += fmt.Sprintf(" Characters available: %s.", strings.Join(characters, ", "))
	}
	system += " Keep it concise, punchy, and visual. Return only the refined text."

	refined, err := g.generate(ctx, system, fmt.Sprintf("Refine this %s: %q", field, text), map[string]any{"temperature": 0.7})
	if err != nil || strings.TrimSpace(refined) == "" {
		if err != nil {
			logrus.Warnf("assist: refine failed: %v", err)
		}
		return text
	}

	return strings.TrimSpace(refined)
}

func (g *Gemini) Chat(ctx context.Context, messages []ChatMessage, script *model.Script) string {
	system := "You are a creative assistant for comic book scripts and storyboards. " +
		"When the user mentions a page or panel, answer from the script below.\n\n" + FormatScript(script)

	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, m.Text)
	}

	answer, err := g.generate(ctx, system, strings.Join(lines, "\n"), map[string]any{"temperature": 0.7})
	if err != nil {
		logrus.Warnf("assist: chat failed: %v", err)
		return ChatFailedMessage
	}
	if answer == "" {
		return "No answer from the AI assistant."
	}

	return answer
}
