package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"

	"linguachat/internal/domain"
)

// OpenAI translates through a chat-completion model and doubles as the
// assistant responder. Any OpenAI-compatible endpoint works.
type OpenAI struct {
	name         string
	model        string
	systemPrompt string
	client       *openai.Client
	logger       *slog.Logger
}

type OpenAIConfig struct {
	Name            string
	APIKey          string
	APIBase         string
	Model           string
	SystemPrompt    string // assistant persona for Reply
	Timeout         time.Duration
	RateLimitPerMin int
	HTTPClient      *http.Client // overrides the shared client
	Logger          *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(cfg.Timeout)
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		oc.BaseURL = strings.TrimRight(cfg.APIBase, "/")
	}
	oc.HTTPClient = &retryingDoer{
		client:  cfg.HTTPClient,
		limiter: NewRateLimiter(1, float64(cfg.RateLimitPerMin)),
		logger:  cfg.Logger,
	}

	return &OpenAI{
		name:         cfg.Name,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		client:       openai.NewClientWithConfig(oc),
		logger:       cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) Healthy(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%s not reachable: %w", o.name, err)
	}
	return nil
}

const translateOnePrompt = "Translate the user's message into the language with code %q. " +
	"Reply with the translation only, keeping formatting and line breaks."

const translateBatchPrompt = "The user sends a JSON array of strings. Translate each string into the language with code %q. " +
	"Reply with a JSON array of the translated strings only: same length, same order, no commentary."

func (o *OpenAI) TranslateOne(ctx context.Context, text, lang string) (string, error) {
	out, err := o.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(translateOnePrompt, lang)},
		{Role: openai.ChatMessageRoleUser, Content: text},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrTranslation, o.name, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: %s: empty reply", domain.ErrTranslation, o.name)
	}
	return out, nil
}

// TranslateBatch sends texts as one JSON array. A reply that is not an array
// of len(texts) strings yields texts unchanged.
func (o *OpenAI) TranslateBatch(ctx context.Context, texts []string, lang string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(texts)
	if err != nil {
		return nil, fmt.Errorf("%w: encode batch: %v", domain.ErrTranslation, err)
	}
	reply, err := o.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(translateBatchPrompt, lang)},
		{Role: openai.ChatMessageRoleUser, Content: string(payload)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrTranslation, o.name, err)
	}
	out, ok := parseBatchReply(reply, len(texts))
	if !ok {
		o.logger.Warn("openai: malformed batch reply, keeping originals", "provider", o.name, "want", len(texts))
		return append([]string(nil), texts...), nil
	}
	return out, nil
}

// Reply generates the assistant's next turn for history.
func (o *OpenAI) Reply(ctx context.Context, history []domain.Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if o.systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.systemPrompt})
	}
	for _, m := range history {
		role := openai.ChatMessageRoleSystem
		switch m.Role {
		case domain.RoleUser:
			role = openai.ChatMessageRoleUser
		case domain.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.OriginalText})
	}
	out, err := o.complete(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("%s reply: %w", o.name, err)
	}
	return strings.TrimSpace(out), nil
}

func (o *OpenAI) complete(ctx context.Context, msgs []openai.ChatCompletionMessage) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: msgs,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// parseBatchReply accepts a bare JSON array, optionally inside a code fence
// or under a "translations" key.
func parseBatchReply(reply string, n int) ([]string, bool) {
	reply = strings.TrimSpace(reply)
	if strings.HasPrefix(reply, "```") {
		reply = strings.TrimPrefix(reply, "```json")
		reply = strings.TrimPrefix(reply, "```")
		reply = strings.TrimSuffix(strings.TrimSpace(reply), "```")
		reply = strings.TrimSpace(reply)
	}
	if !gjson.Valid(reply) {
		return nil, false
	}
	r := gjson.Parse(reply)
	if r.IsObject() {
		r = r.Get("translations")
	}
	if !r.IsArray() {
		return nil, false
	}
	items := r.Array()
	if len(items) != n {
		return nil, false
	}
	out := make([]string, n)
	for i, item := range items {
		if item.Type != gjson.String {
			return nil, false
		}
		out[i] = item.String()
	}
	return out, true
}

// retryingDoer routes go-openai requests through the rate limiter and the
// shared retry helper.
type retryingDoer struct {
	client  *http.Client
	limiter *RateLimiter
	logger  *slog.Logger
}

func (d *retryingDoer) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if req.Body != nil && req.GetBody == nil {
		// Body cannot be replayed.
		return d.client.Do(req)
	}
	first := true
	return doWithRetry(ctx, d.client, func() (*http.Request, error) {
		if first {
			first = false
			return req, nil
		}
		r := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			r.Body = body
		}
		return r, nil
	}, d.logger)
}
