package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Client talks to one OpenAI-compatible endpoint.
type Client struct {
	api     openai.Client
	baseURL string
}

// NewClient builds a client for baseURL. Most local servers ignore the
// key but the API requires one on the wire.
func NewClient(baseURL, apiKey string) *Client {
	normalized := strings.TrimSuffix(baseURL, "/")
	normalized = strings.TrimSuffix(normalized, "/chat/completions")
	normalized = strings.TrimSuffix(normalized, "/")
	return &Client{
		api: openai.NewClient(
			option.WithBaseURL(normalized+"/"),
			option.WithAPIKey(apiKey),
		),
		baseURL: normalized,
	}
}

// Cache hands out one client per (base URL, API key) pair. Recreating
// clients per task would drop connection reuse.
type Cache struct {
	mu      sync.Mutex
	clients map[string]*Client
}

func NewCache() *Cache {
	return &Cache{clients: make(map[string]*Client)}
}

func (c *Cache) Get(baseURL, apiKey string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := baseURL + "\x00" + apiKey
	client, ok := c.clients[key]
	if !ok {
		client = NewClient(baseURL, apiKey)
		c.clients[key] = client
	}
	return client
}

// Stream opens a streaming completion and pumps text deltas.
func (c *Client) Stream(ctx context.Context, req Request) (Stream, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: buildMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.Seed != nil {
		params.Seed = openai.Int(*req.Seed)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(*req.MaxTokens)
	}
	if len(req.ChoiceEnum) > 0 {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "choice",
					Schema: ChoiceSchema(req.ChoiceEnum),
				},
			},
		}
	}

	extras := make(map[string]any, len(req.ExtraBody)+1)
	for k, v := range req.ExtraBody {
		extras[k] = v
	}
	if req.Stop != nil {
		extras["stop"] = req.Stop
	}
	if len(extras) > 0 {
		params.SetExtraFields(extras)
	}

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		stream := c.api.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					events <- Event{Type: EventTextDelta, Text: choice.Delta.Content}
				}
				if choice.FinishReason != "" {
					events <- Event{Type: EventFinish, FinishReason: choice.FinishReason}
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("completion stream (%s): %w", c.baseURL, err)
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

// ChoiceSchema is the one-field JSON schema used to restrict output to
// an enumerated choice.
func ChoiceSchema(choices []string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"choice": map[string]any{
				"type": "string",
				"enum": choices,
			},
		},
		"required": []string{"choice"},
	}
}
