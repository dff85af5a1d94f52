// Package channel holds the interactive surfaces over a chat session.
package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"linguachat/internal/bus"
	"linguachat/internal/chat"
	"linguachat/internal/display"
	"linguachat/internal/domain"
	"linguachat/internal/history"
)

// CLI is the interactive terminal REPL.
type CLI struct {
	session  *chat.Session
	store    *history.Store
	language *chat.Selector
	logger   *slog.Logger
	in       io.Reader
	out      io.Writer
	now      func() time.Time
	spinner  bool

	count     atomic.Int64 // conversations, from the last change event
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
}

type CLIConfig struct {
	Session  *chat.Session
	Store    *history.Store
	Language *chat.Selector
	Logger   *slog.Logger
	In       io.Reader
	Out      io.Writer
	Now      func() time.Time
	Spinner  bool // animate while waiting for a reply
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Language == nil {
		cfg.Language = chat.NewSelector("")
	}
	return &CLI{
		session:  cfg.Session,
		store:    cfg.Store,
		language: cfg.Language,
		logger:   cfg.Logger,
		in:       cfg.In,
		out:      cfg.Out,
		now:      cfg.Now,
		spinner:  cfg.Spinner,
	}
}

const prompt = "You> "

// Run reads lines until EOF, /quit or ctx cancellation.
func (c *CLI) Run(ctx context.Context) error {
	unsubscribe := c.store.Subscribe(func(e bus.Event) {
		if n, ok := e.Payload["count"].(int); ok {
			c.count.Store(int64(n))
		}
	})
	defer unsubscribe()
	c.count.Store(int64(len(c.store.List(ctx))))

	c.printf("linguachat. Type a message and press Enter. /help lists commands.\n")
	if lang := c.language.Get(); lang != "" {
		c.printf("Display language: %s\n", lang)
	}
	c.printf(prompt)

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.printf(prompt)
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := c.command(ctx, line); quit {
				c.logger.Info("user requested quit")
				return nil
			}
			c.printf(prompt)
			continue
		}

		c.send(ctx, line)
		c.printf(prompt)
	}
}

func (c *CLI) send(ctx context.Context, text string) {
	c.startThinking()
	reply, err := c.session.Send(ctx, text)
	c.stopThinking()
	if err != nil {
		c.printf("\r\033[K(error: %v)\n", err)
		return
	}
	if reply.ID == "" {
		return
	}
	c.printf("\r\033[K--- assistant ---\n%s\n-----------------\n", display.Resolve(reply, c.language.Get()))
}

// command handles a slash command and reports whether to quit.
func (c *CLI) command(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit", "/q":
		return true

	case "/help":
		c.printf("/lang [code]  show or switch display language (empty code shows originals)\n")
		c.printf("/new          start a new conversation\n")
		c.printf("/load ID      open a stored conversation\n")
		c.printf("/list         list stored conversations\n")
		c.printf("/show         reprint the current conversation\n")
		c.printf("/quit         exit\n")

	case "/lang":
		if arg == "" {
			c.printf("Display language: %q\n", c.language.Get())
			return false
		}
		if arg == "-" || arg == "original" {
			arg = ""
		}
		c.language.Set(arg)
		c.startThinking()
		report := c.session.SwitchLanguage(ctx)
		c.stopThinking()
		if report.Failed > 0 {
			c.printf("\r\033[K(%d messages could not be translated, showing originals)\n", report.Failed)
		}
		c.printTranscript()

	case "/new":
		c.session.New()
		c.printf("Started a new conversation.\n")

	case "/load":
		if arg == "" {
			c.printf("usage: /load ID\n")
			return false
		}
		if err := c.session.Load(ctx, arg); err != nil {
			if errors.Is(err, chat.ErrNotFound) {
				c.printf("No conversation with id %s.\n", arg)
				return false
			}
			c.printf("(error: %v)\n", err)
			return false
		}
		c.session.SwitchLanguage(ctx)
		c.printTranscript()

	case "/list":
		c.printList(ctx)

	case "/show":
		c.printTranscript()

	default:
		c.printf("Unknown command %s. /help lists commands.\n", name)
	}
	return false
}

func (c *CLI) printTranscript() {
	lines := c.session.Display()
	if len(lines) == 0 {
		c.printf("(empty conversation)\n")
		return
	}
	for _, l := range lines {
		c.printf("%s: %s\n", roleLabel(l.Role), l.Text)
	}
}

func (c *CLI) printList(ctx context.Context) {
	convs := c.store.List(ctx)
	c.printf("%d conversations\n", c.count.Load())
	lang := c.language.Get()
	for _, sec := range display.Group(convs, c.now()) {
		c.printf("== %s ==\n", sec.Bucket)
		for _, conv := range sec.Conversations {
			marker := " "
			if conv.ID == c.session.ID() {
				marker = "*"
			}
			c.printf("%s %s  %s\n      %s\n", marker, conv.ID, conv.Title, display.Preview(conv, lang))
		}
	}
}

func roleLabel(r domain.Role) string {
	switch r {
	case domain.RoleUser:
		return "you"
	case domain.RoleAssistant:
		return "assistant"
	default:
		return "system"
	}
}

func (c *CLI) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func(stop chan struct{}) {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.thinkMu.Lock()
				select {
				case <-stop:
					c.thinkMu.Unlock()
					return
				default:
				}
				fmt.Fprintf(c.out, "\r%s Working...", frames[i%len(frames)])
				c.thinkMu.Unlock()
				i++
			}
		}
	}(c.thinkStop)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}
