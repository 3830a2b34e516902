package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/telemetry"
)

// Client talks to an OpenAI-compatible API for chat completions and
// embeddings. Embeddings are cached per content hash: outline titles
// and near-identical chunks recur constantly during a run and repaying
// for their vectors is pure waste.
type Client struct {
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	temperature    float64
	maxTokens      int
	httpClient     *http.Client

	embedCache *lru.Cache[string, []float32]
	telemetry  *telemetry.Telemetry
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// New creates a client for the given model. The embedding cache size
// comes from config; zero disables caching.
func New(cfg config.LLMConfig, model string, temperature float64, tel *telemetry.Telemetry) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key not configured (set OPENAI_API_KEY)")
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	c := &Client{
		apiKey:         cfg.APIKey,
		baseURL:        baseURL,
		model:          model,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    temperature,
		maxTokens:      cfg.MaxTokens,
		httpClient:     &http.Client{Timeout: timeout},
		telemetry:      tel,
	}
	if cfg.EmbeddingCache > 0 {
		cache, err := lru.New[string, []float32](cfg.EmbeddingCache)
		if err != nil {
			return nil, fmt.Errorf("creating embedding cache: %w", err)
		}
		c.embedCache = cache
	}
	return c, nil
}

// Complete sends one system+user exchange and returns the raw text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	var messages []chatMessage
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})

	requestBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.telemetry.RecordLLM(c.model, 0, 0, 0, err)
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("API returned status: %d", resp.StatusCode)
		c.telemetry.RecordLLM(c.model, 0, 0, 0, err)
		return "", err
	}

	var openaiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(openaiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	cost := telemetry.CalculateCost(openaiResp.Usage.PromptTokens, openaiResp.Usage.CompletionTokens, modelInputRate(c.model), modelOutputRate(c.model))
	c.telemetry.RecordLLM(c.model, openaiResp.Usage.PromptTokens, openaiResp.Usage.CompletionTokens, cost, nil)

	return openaiResp.Choices[0].Message.Content, nil
}

// CreateEmbedding returns one vector per input text, in input order.
// Cache hits never touch the network; only the misses go out in one
// batched request.
func (c *Client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if c.embedCache != nil {
			if vec, ok := c.embedCache.Get(cacheKey(c.embeddingModel, text)); ok {
				out[i] = vec
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	requestBody := map[string]interface{}{
		"model": c.embeddingModel,
		"input": missing,
	}
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.telemetry.RecordLLM(c.embeddingModel, 0, 0, 0, err)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("API returned status: %d", resp.StatusCode)
		c.telemetry.RecordLLM(c.embeddingModel, 0, 0, 0, err)
		return nil, err
	}

	var openaiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Usage struct {
			PromptTokens int64 `json:"prompt_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(openaiResp.Data) != len(missing) {
		return nil, fmt.Errorf("embedding count mismatch: asked %d got %d", len(missing), len(openaiResp.Data))
	}

	cost := telemetry.CalculateCost(openaiResp.Usage.PromptTokens, 0, embeddingRate, 0)
	c.telemetry.RecordLLM(c.embeddingModel, openaiResp.Usage.PromptTokens, 0, cost, nil)

	// The API does not guarantee response order; the index field does.
	for _, d := range openaiResp.Data {
		if d.Index < 0 || d.Index >= len(missingIdx) {
			return nil, fmt.Errorf("embedding index %d out of range (batch of %d)", d.Index, len(missingIdx))
		}
		i := missingIdx[d.Index]
		out[i] = d.Embedding
		if c.embedCache != nil {
			c.embedCache.Add(cacheKey(c.embeddingModel, texts[i]), d.Embedding)
		}
	}
	return out, nil
}

func cacheKey(model, text string) string {
	return model + "\x00" + text
}

// Per-1K-token pricing for cost tracking. Unknown models price at the
// gpt-4o-mini rate; tracking is approximate on purpose.
const embeddingRate = 0.00002

func modelInputRate(model string) float64 {
	switch {
	case strings.HasPrefix(model, "gpt-4o-mini"):
		return 0.00015
	case strings.HasPrefix(model, "gpt-4o"):
		return 0.0025
	case strings.HasPrefix(model, "gpt-4"):
		return 0.03
	default:
		return 0.00015
	}
}

func modelOutputRate(model string) float64 {
	switch {
	case strings.HasPrefix(model, "gpt-4o-mini"):
		return 0.0006
	case strings.HasPrefix(model, "gpt-4o"):
		return 0.01
	case strings.HasPrefix(model, "gpt-4"):
		return 0.06
	default:
		return 0.0006
	}
}
