package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"linguachat/internal/domain"
)

// FailoverTranslator tries translators in order, falling back to the next
// one when the current fails.
type FailoverTranslator struct {
	translators []domain.Translator
	logger      *slog.Logger
}

// NewFailoverTranslator creates a failover chain. At least one translator is
// required.
func NewFailoverTranslator(translators []domain.Translator, logger *slog.Logger) *FailoverTranslator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverTranslator{
		translators: translators,
		logger:      logger,
	}
}

func (ft *FailoverTranslator) Name() string {
	names := make([]string, len(ft.translators))
	for i, t := range ft.translators {
		names[i] = t.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (ft *FailoverTranslator) Healthy(ctx context.Context) error {
	for _, t := range ft.translators {
		if err := t.Healthy(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy translator in failover chain")
}

func (ft *FailoverTranslator) TranslateOne(ctx context.Context, text, lang string) (string, error) {
	var lastErr error
	for i, t := range ft.translators {
		out, err := t.TranslateOne(ctx, text, lang)
		if err == nil {
			if i > 0 {
				ft.logger.Info("failover: used fallback translator", "translator", t.Name(), "attempt", i+1)
			}
			return out, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrTranslation, ctx.Err())
		}
		lastErr = err
		ft.logger.Warn("failover: translator failed, trying next", "translator", t.Name(), "attempt", i+1, "err", err)
	}
	return "", fmt.Errorf("%w: all translators in failover chain failed: %v", domain.ErrTranslation, lastErr)
}

func (ft *FailoverTranslator) TranslateBatch(ctx context.Context, texts []string, lang string) ([]string, error) {
	var lastErr error
	for i, t := range ft.translators {
		out, err := t.TranslateBatch(ctx, texts, lang)
		if err == nil {
			if i > 0 {
				ft.logger.Info("failover: used fallback translator", "translator", t.Name(), "attempt", i+1)
			}
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrTranslation, ctx.Err())
		}
		lastErr = err
		ft.logger.Warn("failover: batch failed, trying next", "translator", t.Name(), "attempt", i+1, "err", err)
	}
	return nil, fmt.Errorf("%w: all translators in failover chain failed: %v", domain.ErrTranslation, lastErr)
}
