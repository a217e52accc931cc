package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/sagi/internal/domain"
	"github.com/joss/sagi/internal/render"
)

// rpcClient calls the permission procedures of a running server.
type rpcClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *rpcClient) call(ctx context.Context, name string, params, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc/"+name, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s: %s (%d)", name, e.Error, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func permissionsCmd() *cobra.Command {
	var serverURL, token string

	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Inspect and change permissions on a running server",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server URL (default http://<server.addr>)")
	cmd.PersistentFlags().StringVar(&token, "token", os.Getenv("SAGI_TOKEN"), "Bearer token")

	client := func() (*rpcClient, error) {
		url := serverURL
		if url == "" {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return nil, err
			}
			url = "http://" + cfg.Server.Addr
		}
		return &rpcClient{
			baseURL: strings.TrimRight(url, "/"),
			token:   token,
			http:    &http.Client{Timeout: 10 * time.Second},
		}, nil
	}
	out := func() *render.Renderer {
		return render.New(os.Stdout, render.WithPretty(pretty))
	}

	modes := &cobra.Command{
		Use:   "modes [session]",
		Short: "List modes, marking the session's or the default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			var res struct {
				DefaultMode domain.PermissionMode `json:"defaultMode"`
			}
			if err := c.call(cmd.Context(), "permissions.getModes", nil, &res); err != nil {
				return err
			}
			if len(args) == 0 {
				out().Modes(res.DefaultMode)
				return nil
			}

			var session struct {
				domain.Summary
				ApprovedCommands []string `json:"approvedCommands"`
				DeniedCommands   []string `json:"deniedCommands"`
			}
			if err := c.call(cmd.Context(), "permissions.getSessionMode", map[string]string{"sessionId": args[0]}, &session); err != nil {
				return err
			}
			r := out()
			r.Modes(session.Mode)
			r.Summary(args[0], session.Summary, session.ApprovedCommands, session.DeniedCommands)
			return nil
		},
	}

	setMode := &cobra.Command{
		Use:   "set <session> <mode>",
		Short: "Set a session's mode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			return c.call(cmd.Context(), "permissions.setSessionMode", map[string]string{"sessionId": args[0], "mode": args[1]}, nil)
		},
	}

	setDefault := &cobra.Command{
		Use:   "default <mode>",
		Short: "Set the mode for new sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			return c.call(cmd.Context(), "permissions.setDefaultMode", map[string]string{"mode": args[0]}, nil)
		},
	}

	check := &cobra.Command{
		Use:   "check <session> <command...>",
		Short: "Check whether a bash command may run",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			var d domain.Decision
			params := map[string]string{"sessionId": args[0], "command": strings.Join(args[1:], " ")}
			if err := c.call(cmd.Context(), "permissions.checkBashCommand", params, &d); err != nil {
				return err
			}
			out().Decision(d)
			return nil
		},
	}

	decide := func(use, short, procedure string) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <session> <command...>",
			Short: short,
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := client()
				if err != nil {
					return err
				}
				params := map[string]string{"sessionId": args[0], "command": strings.Join(args[1:], " ")}
				return c.call(cmd.Context(), procedure, params, nil)
			},
		}
	}

	clearCmd := &cobra.Command{
		Use:   "clear <session>",
		Short: "Forget a session's mode and decisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			return c.call(cmd.Context(), "permissions.clearSession", map[string]string{"sessionId": args[0]}, nil)
		},
	}

	cmd.AddCommand(
		modes,
		setMode,
		setDefault,
		check,
		decide("approve", "Approve a command or pattern (\"git *\", \"tool:<name>\")", "permissions.approveCommand"),
		decide("deny", "Deny a command or pattern", "permissions.denyCommand"),
		clearCmd,
	)
	return cmd
}
