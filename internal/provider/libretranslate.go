package provider

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

	"github.com/tidwall/gjson"

	"linguachat/internal/domain"
)

// LibreTranslate talks to a LibreTranslate server. Batches use the array
// form of the q parameter.
type LibreTranslate struct {
	name    string
	apiBase string
	apiKey  string
	client  *http.Client
	limiter *RateLimiter
	logger  *slog.Logger
}

type LibreTranslateConfig struct {
	Name            string
	APIBase         string
	APIKey          string
	Timeout         time.Duration
	RateLimitPerMin int
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

func NewLibreTranslate(cfg LibreTranslateConfig) *LibreTranslate {
	if cfg.Name == "" {
		cfg.Name = "libretranslate"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(cfg.Timeout)
	}
	return &LibreTranslate{
		name:    cfg.Name,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		apiKey:  cfg.APIKey,
		client:  cfg.HTTPClient,
		limiter: NewRateLimiter(1, float64(cfg.RateLimitPerMin)),
		logger:  cfg.Logger,
	}
}

func (l *LibreTranslate) Name() string { return l.name }

func (l *LibreTranslate) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.apiBase+"/languages", nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s not reachable: %w", l.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", l.name, resp.StatusCode)
	}
	return nil
}

type ltRequest struct {
	Q      any    `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

func (l *LibreTranslate) TranslateOne(ctx context.Context, text, lang string) (string, error) {
	body, err := l.post(ctx, text, lang)
	if err != nil {
		return "", err
	}
	out := gjson.GetBytes(body, "translatedText")
	if out.Type != gjson.String || out.String() == "" {
		return "", fmt.Errorf("%w: %s: missing translatedText", domain.ErrTranslation, l.name)
	}
	return out.String(), nil
}

// TranslateBatch returns texts unchanged when the reply is not an array of
// len(texts) strings.
func (l *LibreTranslate) TranslateBatch(ctx context.Context, texts []string, lang string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := l.post(ctx, texts, lang)
	if err != nil {
		return nil, err
	}
	items := gjson.GetBytes(body, "translatedText")
	if !items.IsArray() || len(items.Array()) != len(texts) {
		l.logger.Warn("libretranslate: malformed batch reply, keeping originals", "provider", l.name, "want", len(texts))
		return append([]string(nil), texts...), nil
	}
	out := make([]string, len(texts))
	for i, item := range items.Array() {
		if item.Type != gjson.String {
			l.logger.Warn("libretranslate: non-string batch item, keeping originals", "provider", l.name, "index", i)
			return append([]string(nil), texts...), nil
		}
		out[i] = item.String()
	}
	return out, nil
}

func (l *LibreTranslate) post(ctx context.Context, q any, lang string) ([]byte, error) {
	payload, err := json.Marshal(ltRequest{Q: q, Source: "auto", Target: lang, Format: "text", APIKey: l.apiKey})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", domain.ErrTranslation, err)
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrTranslation, l.name, err)
	}

	resp, err := doWithRetry(ctx, l.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.apiBase+"/translate", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, l.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrTranslation, l.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read response: %v", domain.ErrTranslation, l.name, err)
	}
	if msg := gjson.GetBytes(body, "error"); msg.Exists() {
		return nil, fmt.Errorf("%w: %s: %s", domain.ErrTranslation, l.name, msg.String())
	}
	return body, nil
}
