package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/joss/sagi/internal/domain"
	"github.com/joss/sagi/internal/permission"
	"github.com/joss/sagi/internal/provider"
	"github.com/joss/sagi/internal/render"
	"github.com/joss/sagi/internal/storage"
)

func chatCmd() *cobra.Command {
	var (
		providerName string
		model        string
		chatMode     string
		permMode     string
		chatID       string
		apiKey       string
		markdown     bool
		flex         bool
		memory       bool
	)

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Run chat turns in the terminal",
		Long: `Run a chat turn in the terminal. Without a prompt argument on a TTY,
starts an interactive session; each permission request is answered inline
with y (allow once), a (always for this chat) or n (deny).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if memory {
				cfg.Storage.DataDir = storage.MemoryPath
			}
			if permMode != "" {
				cfg.Permissions.DefaultMode = permMode
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			id, err := provider.ParseID(providerName)
			if err != nil {
				return err
			}
			if apiKey == "" {
				apiKey = provider.EnvKey(id)
			}
			if apiKey == "" {
				return fmt.Errorf("no API key for %s (use --api-key or the provider's *_API_KEY variable)", id)
			}
			if chatID == "" {
				chatID = uuid.NewString()
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			color.NoColor = !pretty || !term.IsTerminal(int(os.Stdout.Fd()))
			width := 0
			if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
				width = w
			}
			opts := []render.Option{render.WithPretty(!color.NoColor)}
			if markdown {
				opts = append(opts, render.WithMarkdown(width))
			}

			s := &chatSession{
				app:      a,
				renderer: render.New(os.Stdout, opts...),
				in:       bufio.NewReader(os.Stdin),
				out:      os.Stdout,
				base: domain.ChatRequest{
					ChatID:   chatID,
					Mode:     domain.ChatMode(chatMode),
					Provider: id,
					APIKey:   apiKey,
					Model:    model,
					Flex:     flex,
				},
			}

			if len(args) == 1 {
				return s.turn(cmd.Context(), args[0])
			}
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				return s.turn(cmd.Context(), string(data))
			}
			return s.repl(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&providerName, "provider", "p", "openai", "Provider (openai, anthropic, zai)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model (default: provider default)")
	cmd.Flags().StringVar(&chatMode, "mode", "agent", "Chat mode (plan, agent)")
	cmd.Flags().StringVar(&permMode, "permissions", "", "Permission mode (safe, ask, allow-all)")
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat id to continue (default: new chat)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (default from environment)")
	cmd.Flags().BoolVar(&markdown, "render", false, "Render answers as markdown")
	cmd.Flags().BoolVar(&flex, "flex", false, "Use the extended request timeout")
	cmd.Flags().BoolVar(&memory, "memory", false, "Keep history in memory only")
	return cmd
}

type chatSession struct {
	app      *app
	renderer *render.Renderer
	in       *bufio.Reader
	out      io.Writer
	base     domain.ChatRequest
}

func (s *chatSession) repl(ctx context.Context) error {
	fmt.Fprintf(s.out, "%s chat %s (%s). Ctrl-D to exit.\n",
		color.CyanString("sagi"), s.base.ChatID, s.app.perms.Mode(s.base.ChatID))
	for {
		fmt.Fprint(s.out, color.GreenString("> "))
		line, err := s.in.ReadString('\n')
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out)
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}
		if err := s.turn(ctx, line); err != nil {
			fmt.Fprintf(s.out, "%s %v\n", color.RedString("error:"), err)
		}
	}
}

// turn runs one prompt. Ctrl-C cancels the turn without leaving the REPL.
func (s *chatSession) turn(parent context.Context, prompt string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	req := s.base
	req.Prompt = prompt
	events, err := s.app.orch.Run(ctx, req)
	if err != nil {
		return err
	}

	store := s.app.perms
	for ev := range events {
		s.renderer.Event(ev)
		if ev.Type == domain.EventPermissionRequest && ev.Permission != nil {
			s.answer(store, ev.Permission)
		}
	}
	if ctx.Err() != nil {
		fmt.Fprintln(s.out, color.YellowString("cancelled"))
	}
	return nil
}

// answer prompts for a pending permission request. "a" approves the
// command's program for the rest of the chat ("git *" for a git command,
// "tool:<name>" for a tool call).
func (s *chatSession) answer(store *permission.Store, req *domain.PermissionRequest) {
	fmt.Fprint(s.out, color.YellowString("  allow? [y]es / [a]lways / [N]o: "))
	line, _ := s.in.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		store.Approve(req.SessionID, req.Command)
	case "a", "always":
		store.Approve(req.SessionID, broadPattern(req.Command))
	default:
		store.Deny(req.SessionID, req.Command)
	}
}

func broadPattern(command string) string {
	if strings.HasPrefix(command, "tool:") {
		parts := strings.SplitN(command, ":", 3)
		return parts[0] + ":" + parts[1]
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return command
	}
	return fields[0] + " *"
}
