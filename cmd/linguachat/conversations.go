package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linguachat/internal/chat"
	"linguachat/internal/display"

	"github.com/spf13/cobra"
)

// withApp loads config, sets up logging and opens the shared components
// for a one-shot command.
func withApp(cmd *cobra.Command, opts appOptions, lang *string, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	if lang != nil && cmd.Flags().Changed("lang") {
		cfg.General.Language = *lang
	}

	a, err := openApp(cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func listCmd() *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored conversations grouped by recency",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, appOptions{}, &lang, func(ctx context.Context, a *app) error {
				convs := a.store.List(ctx)
				if len(convs) == 0 {
					fmt.Println("No conversations yet.")
					return nil
				}
				for _, sec := range display.Group(convs, time.Now()) {
					fmt.Printf("== %s ==\n", sec.Bucket)
					for _, c := range sec.Conversations {
						fmt.Printf("%s  %s (%d messages)\n    %s\n", c.ID, c.Title, len(c.Messages), display.Preview(c, a.lang.Get()))
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "language for message previews")
	return cmd
}

func showCmd() *cobra.Command {
	var lang string
	var fill bool
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Print a conversation in the display language",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := appOptions{Translator: fill}
			return withApp(cmd, opts, &lang, func(ctx context.Context, a *app) error {
				session := a.NewSession()
				if err := loadSession(ctx, session, args[0]); err != nil {
					return err
				}
				if fill {
					session.SwitchLanguage(ctx)
					session.EnsureVisible(ctx)
				}
				conv, _ := a.store.GetByID(ctx, args[0])
				fmt.Printf("%s  %s\n", conv.ID, conv.Title)
				if conv.Meta.Truncated {
					fmt.Printf("(over the %d byte limit: %d bytes)\n", a.cfg.Storage.MaxConversationBytes, conv.Meta.SizeBytes)
				}
				for _, l := range session.Display() {
					fmt.Printf("[%s] %s\n", l.Role, l.Text)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "display language")
	cmd.Flags().BoolVar(&fill, "translate", false, "translate missing messages and save them")
	return cmd
}

func translateCmd() *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "translate ID",
		Short: "Translate a stored conversation in batches and save it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if lang == "" {
				return fmt.Errorf("--lang is required")
			}
			return withApp(cmd, appOptions{Translator: true}, &lang, func(ctx context.Context, a *app) error {
				if a.translator == nil {
					return fmt.Errorf("no translation provider available")
				}
				session := a.NewSession()
				if err := loadSession(ctx, session, args[0]); err != nil {
					return err
				}
				r := session.SwitchLanguage(ctx)
				fmt.Printf("Batches: %d, translated: %d, unchanged: %d, superseded: %d, failed: %d\n",
					r.Batches, r.Translated, r.Unchanged, r.Superseded, r.Failed)
				if r.Failed > 0 {
					return fmt.Errorf("%d message(s) could not be translated", r.Failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "target language code")
	return cmd
}

func loadSession(ctx context.Context, s *chat.Session, id string) error {
	if err := s.Load(ctx, id); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return fmt.Errorf("no conversation with id %s", id)
		}
		return err
	}
	return nil
}

func renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename ID TITLE",
		Short: "Set a conversation title",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, appOptions{}, nil, func(ctx context.Context, a *app) error {
				conv, ok := a.store.Rename(ctx, args[0], args[1])
				if !ok {
					return fmt.Errorf("cannot rename %s: unknown id or empty title", args[0])
				}
				fmt.Printf("Renamed %s to %q\n", conv.ID, conv.Title)
				return nil
			})
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, appOptions{}, nil, func(ctx context.Context, a *app) error {
				if _, ok := a.store.GetByID(ctx, args[0]); !ok {
					return fmt.Errorf("no conversation with id %s", args[0])
				}
				remaining := a.store.Delete(ctx, args[0])
				fmt.Printf("Deleted %s, %d conversations left\n", args[0], len(remaining))
				return nil
			})
		},
	}
}

func clearCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, appOptions{}, nil, func(ctx context.Context, a *app) error {
				n := len(a.store.List(ctx))
				if !force {
					fmt.Printf("This deletes %d conversations. Use --force to proceed.\n", n)
					return fmt.Errorf("clear aborted")
				}
				a.store.DeleteAll(ctx)
				fmt.Printf("Deleted %d conversations\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "delete without asking")
	return cmd
}
