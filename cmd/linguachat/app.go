package main

import (
	"fmt"

	"linguachat/internal/chat"
	"linguachat/internal/config"
	"linguachat/internal/domain"
	"linguachat/internal/history"
	"linguachat/internal/metrics"
	"linguachat/internal/provider"
	"linguachat/internal/storage"
	"linguachat/internal/translate"
)

type appOptions struct {
	Translator bool // resolve the translation stack
	Responder  bool // resolve the assistant backend (implies Translator)
}

// app holds the components every command shares.
type app struct {
	cfg        *config.Config
	slot       domain.Slot
	metrics    *metrics.Metrics
	store      *history.Store
	translator domain.Translator
	responder  chat.Responder
	sched      *translate.Scheduler
	lang       *chat.Selector
}

func openApp(cfg *config.Config, opts appOptions) (*app, error) {
	slot, err := storage.Open(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	a := &app{
		cfg:     cfg,
		slot:    slot,
		metrics: metrics.New(),
		lang:    chat.NewSelector(cfg.General.Language),
	}
	a.store = history.New(history.Options{
		Slot:     slot,
		Logger:   logger,
		Metrics:  a.metrics,
		MaxBytes: cfg.Storage.MaxConversationBytes,
	})

	factory := provider.NewFactory(cfg, logger)
	if opts.Translator || opts.Responder {
		t, err := factory.Translator()
		if err != nil {
			logger.Warn("translation disabled", "err", err)
		} else {
			a.translator = t
		}
	}
	if opts.Responder {
		r, err := factory.Responder()
		if err != nil {
			logger.Warn("assistant disabled", "err", err)
		} else if r != nil {
			a.responder = r
		}
	}

	a.sched = translate.NewScheduler(translate.Options{
		Translator:    a.translator,
		MaxConcurrent: cfg.Translation.MaxConcurrent,
		BatchSize:     cfg.Translation.BatchSize,
		Bus:           a.store.Bus(),
		Logger:        logger,
		Metrics:       a.metrics,
	})
	return a, nil
}

// NewSession returns a chat session over the shared store and scheduler.
func (a *app) NewSession() *chat.Session {
	return chat.NewSession(chat.Options{
		Store:     a.store,
		Scheduler: a.sched,
		Responder: a.responder,
		Language:  a.lang.Get,
		Logger:    logger,
	})
}

func (a *app) Close() {
	if err := a.slot.Close(); err != nil {
		logger.Warn("close storage", "err", err)
	}
}
