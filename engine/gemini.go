package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
)

const (
	DefaultReasoningModel = "gemini-1.5-pro"
	DefaultDraftingModel  = "gemini-1.5-pro"

	// Gemini models have context limits; prompts above this are truncated
	maxPromptChars = 30000
)

// GeminiConfig selects models and sampling for the Gemini backend
type GeminiConfig struct {
	ReasoningModel       string
	DraftingModel        string
	ReasoningTemperature float32
	DraftingTemperature  float32
}

// GeminiEngine implements Engine on the Gemini API
type GeminiEngine struct {
	client *genai.Client
	cfg    GeminiConfig
	logger *slog.Logger
}

// NewGeminiEngine creates a Gemini-backed engine
func NewGeminiEngine(client *genai.Client, cfg GeminiConfig, logger *slog.Logger) *GeminiEngine {
	if cfg.ReasoningModel == "" {
		cfg.ReasoningModel = DefaultReasoningModel
	}
	if cfg.DraftingModel == "" {
		cfg.DraftingModel = DefaultDraftingModel
	}
	if cfg.ReasoningTemperature == 0 {
		cfg.ReasoningTemperature = 0.1
	}
	if cfg.DraftingTemperature == 0 {
		cfg.DraftingTemperature = 0.2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiEngine{client: client, cfg: cfg, logger: logger}
}

// Call performs one generation attempt
func (g *GeminiEngine) Call(ctx context.Context, req Request) (*Result, error) {
	switch req.Kind {
	case KindReasoning:
		return g.reason(ctx, req.Reasoning)
	case KindDrafting:
		return g.draft(ctx, req.Drafting)
	default:
		return nil, Rejected(fmt.Errorf("unknown engine kind %q", req.Kind))
	}
}

func (g *GeminiEngine) reason(ctx context.Context, payload *ReasoningPayload) (*Result, error) {
	prompt, err := reasoningPrompt(payload)
	if err != nil {
		return nil, Rejected(err)
	}

	model := g.client.GenerativeModel(g.cfg.ReasoningModel)
	model.SetTemperature(g.cfg.ReasoningTemperature)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(reasoningSystemInstruction)}}

	text, err := g.generate(ctx, model, prompt)
	if err != nil {
		return nil, err
	}

	verdict, err := ParseVerdict([]byte(text))
	if err != nil {
		return nil, Unavailable(err)
	}
	return &Result{Kind: KindReasoning, Verdict: verdict}, nil
}

func (g *GeminiEngine) draft(ctx context.Context, payload *DraftingPayload) (*Result, error) {
	prompt, err := draftingPrompt(payload)
	if err != nil {
		return nil, Rejected(err)
	}

	model := g.client.GenerativeModel(g.cfg.DraftingModel)
	model.SetTemperature(g.cfg.DraftingTemperature)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(draftingSystemInstruction)}}

	text, err := g.generate(ctx, model, prompt)
	if err != nil {
		return nil, err
	}

	return &Result{
		Kind: KindDrafting,
		Document: &Document{
			Title:    documentTitle(text, payload.Plan.DocumentType),
			Markdown: text,
		},
	}, nil
}

func (g *GeminiEngine) generate(ctx context.Context, model *genai.GenerativeModel, prompt string) (string, error) {
	if len(prompt) > maxPromptChars {
		g.logger.WarnContext(ctx, "prompt too long, truncating", "chars", len(prompt), "limit", maxPromptChars)
		prompt = prompt[:maxPromptChars] + "\n\n[Content truncated due to length...]"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classifyGeminiError(err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return "", Rejected(fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason))
	}
	if len(resp.Candidates) == 0 {
		return "", Unavailable(errors.New("no candidates"))
	}

	var out strings.Builder
	for i, candidate := range resp.Candidates {
		if candidate.FinishReason == genai.FinishReasonSafety {
			return "", Rejected(fmt.Errorf("candidate %d blocked by safety filters", i))
		}
		if candidate.FinishReason != genai.FinishReasonStop && candidate.FinishReason != genai.FinishReasonUnspecified {
			g.logger.WarnContext(ctx, "candidate finished early", "candidate", i, "finish_reason", candidate.FinishReason.String())
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				out.WriteString(string(text))
			}
		}
		// first usable candidate wins
		if out.Len() > 0 {
			break
		}
	}

	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", Unavailable(errors.New("empty content"))
	}
	return text, nil
}

// classifyGeminiError maps client errors onto the gateway failure classes
func classifyGeminiError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return Rejected(err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusBadRequest,
			apiErr.Code == http.StatusUnauthorized,
			apiErr.Code == http.StatusForbidden:
			return Rejected(err)
		case apiErr.Code == http.StatusRequestTimeout,
			apiErr.Code == http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		default:
			return Unavailable(err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return Unavailable(err)
}

func documentTitle(markdown, fallback string) string {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	if fallback != "" {
		return fallback
	}
	return "Draft"
}
