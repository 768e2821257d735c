// internal/enrich/summarizer.go
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github-trend-tracker/internal/errors"
	"github-trend-tracker/internal/model"
	"github-trend-tracker/internal/retry"
)

const (
	summarizeBatchSize = 20
	summarizeMaxTokens = 8192
)

// Provider presets for the Anthropic-compatible messages endpoint.
var providerDefaults = map[string]struct {
	baseURL string
	m       string
}{
	"zhipu": {"https://open.bigmodel.cn/api/anthropic", "claude-3-5-sonnet-20241022"},
	"one":   {"https://lboneapi.longbridge-inc.com", "claude-sonnet-4-5-20250929"},
}

// SummarizerConfig selects the provider and credentials for the
// summarization service. BaseURL and Model override the provider presets
// when set.
type SummarizerConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

// Summarizer calls an Anthropic-compatible messages API to produce a
// summary, category and problem tags per repository. Failures surface as
// EnrichmentUnavailableError so callers can fall back to rule-based
// classification.
type Summarizer struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	logger     *slog.Logger
	retry      retry.Policy
}

// NewSummarizer builds a Summarizer from config, applying provider presets.
func NewSummarizer(cfg SummarizerConfig, logger *slog.Logger) *Summarizer {
	preset, ok := providerDefaults[cfg.Provider]
	if !ok {
		preset = providerDefaults["zhipu"]
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = preset.baseURL
	}
	llmModel := cfg.Model
	if llmModel == "" {
		llmModel = preset.m
	}
	return &Summarizer{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      llmModel,
		logger:     logger,
		retry:      retry.DefaultPolicy(),
	}
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// repoAnalysis is the JSON shape the model is asked to emit per repository.
type repoAnalysis struct {
	FullName    string   `json:"full_name"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	UseCase     string   `json:"use_case"`
	Solves      []string `json:"solves"`
	Category    string   `json:"category"`
}

// Summarize analyzes up to summarizeBatchSize repositories per request and
// returns one detail record per repository the model answered for. Transport
// failures and malformed responses return EnrichmentUnavailableError.
func (s *Summarizer) Summarize(ctx context.Context, records []model.RepositoryRecord) ([]model.RepositoryDetail, error) {
	if len(records) == 0 {
		return nil, nil
	}

	byName := make(map[string]model.RepositoryRecord, len(records))
	for _, r := range records {
		byName[r.FullName] = r
	}

	var details []model.RepositoryDetail
	for start := 0; start < len(records); start += summarizeBatchSize {
		end := min(start+summarizeBatchSize, len(records))
		batch, err := s.summarizeBatch(ctx, records[start:end], byName)
		if err != nil {
			return nil, err
		}
		details = append(details, batch...)
	}
	return details, nil
}

func (s *Summarizer) summarizeBatch(ctx context.Context, records []model.RepositoryRecord, byName map[string]model.RepositoryRecord) ([]model.RepositoryDetail, error) {
	reqBody, err := json.Marshal(messagesRequest{
		Model:       s.model,
		MaxTokens:   summarizeMaxTokens,
		Temperature: 0.3,
		Messages:    []message{{Role: "user", Content: buildPrompt(records)}},
	})
	if err != nil {
		return nil, &apperrors.EnrichmentUnavailableError{Err: err}
	}

	var respBody []byte
	err = s.retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/messages", bytes.NewReader(reqBody))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", s.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("summarizer returned status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return retry.Permanent(err)
			}
			return err
		}

		respBody, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, &apperrors.EnrichmentUnavailableError{Err: err}
	}

	var msg messagesResponse
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return nil, &apperrors.EnrichmentUnavailableError{Err: err}
	}
	if len(msg.Content) == 0 {
		return nil, &apperrors.EnrichmentUnavailableError{Err: fmt.Errorf("empty response content")}
	}

	analyses, err := parseAnalyses(msg.Content[0].Text)
	if err != nil {
		return nil, &apperrors.EnrichmentUnavailableError{Err: err}
	}

	var details []model.RepositoryDetail
	for _, a := range analyses {
		original, ok := byName[a.FullName]
		if !ok {
			continue // the model answered for a repository we never asked about
		}
		details = append(details, model.RepositoryDetail{
			FullName:    a.FullName,
			Owner:       original.Owner,
			URL:         original.URL,
			Summary:     a.Summary,
			Description: a.Description,
			UseCase:     a.UseCase,
			Category:    model.ParseCategory(a.Category),
			ProblemTags: a.Solves,
			Language:    original.Language,
		})
	}
	return details, nil
}

// parseAnalyses extracts the JSON array from the model's reply, stripping
// markdown code fences if present.
func parseAnalyses(text string) ([]repoAnalysis, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var analyses []repoAnalysis
	if err := json.Unmarshal([]byte(text), &analyses); err != nil {
		return nil, fmt.Errorf("malformed analysis response: %w", err)
	}
	return analyses, nil
}

func buildPrompt(records []model.RepositoryRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an open-source project analyst. Analyze the following %d GitHub repositories.\n", len(records))

	for i, r := range records {
		fmt.Fprintf(&b, "\n--- Repository %d ---\n", i+1)
		fmt.Fprintf(&b, "Name: %s\n", r.FullName)
		fmt.Fprintf(&b, "Description: %s\n", r.Description)
		fmt.Fprintf(&b, "Language: %s\n", r.Language)
		if len(r.Topics) > 0 {
			fmt.Fprintf(&b, "Topics: %s\n", strings.Join(r.Topics, ", "))
		}
		if r.ReadmeExcerpt != "" {
			fmt.Fprintf(&b, "README excerpt: %s\n", r.ReadmeExcerpt)
		}
	}

	b.WriteString(`
For each repository produce:
- "summary": a one-sentence summary (max 30 words)
- "description": a fuller description (50-100 words)
- "use_case": who uses it and when
- "solves": 3-5 short problem keywords
- "category": exactly one of plugin, tool, template, docs, demo, integration, library, app, other

Reply with ONLY a JSON array, no other text, one object per repository:
[{"full_name": "owner/repo", "summary": "...", "description": "...", "use_case": "...", "solves": ["..."], "category": "tool"}]
The full_name field must match the input name exactly.
`)
	return b.String()
}
