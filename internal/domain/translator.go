package domain

import (
	"context"
	"errors"
)

// ErrTranslation wraps every non-success from a translation backend.
var ErrTranslation = errors.New("translation failed")

// Translator is the translation collaborator. TranslateBatch must return a
// slice of the same length and order as texts; backends that receive a
// malformed response return texts unchanged instead of an error.
type Translator interface {
	TranslateOne(ctx context.Context, text, lang string) (string, error)
	TranslateBatch(ctx context.Context, texts []string, lang string) ([]string, error)
	Name() string
	Healthy(ctx context.Context) error
}
