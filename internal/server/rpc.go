package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/joss/sagi/internal/domain"
)

var errUnknownProcedure = errors.New("unknown procedure")

// procedure handles one RPC call. body is nil when the request had none.
type procedure func(ctx context.Context, body json.RawMessage) (any, error)

type sessionParams struct {
	SessionID string `json:"sessionId"`
}

type modeParams struct {
	SessionID string `json:"sessionId"`
	Mode      string `json:"mode"`
}

type commandParams struct {
	SessionID string `json:"sessionId"`
	Command   string `json:"command"`
}

type toolCallParams struct {
	SessionID string         `json:"sessionId"`
	ToolName  string         `json:"toolName"`
	Args      map[string]any `json:"args,omitempty"`
}

type successResult struct {
	Success     bool                  `json:"success"`
	Mode        domain.PermissionMode `json:"mode,omitempty"`
	DefaultMode domain.PermissionMode `json:"defaultMode,omitempty"`
}

type modesResult struct {
	Modes       []domain.PermissionMode                    `json:"modes"`
	Info        map[domain.PermissionMode]domain.ModeInfo `json:"info"`
	DefaultMode domain.PermissionMode                      `json:"defaultMode"`
}

type sessionModeResult struct {
	CurrentMode domain.PermissionMode `json:"currentMode"`
	ModeInfo    domain.ModeInfo       `json:"modeInfo"`
	domain.Summary
	ApprovedCommands []string `json:"approvedCommands"`
	DeniedCommands   []string `json:"deniedCommands"`
}

func (s *Server) permissionProcedures() map[string]procedure {
	store := s.classifier.Store()
	return map[string]procedure{
		"permissions.getModes": func(ctx context.Context, _ json.RawMessage) (any, error) {
			info := make(map[domain.PermissionMode]domain.ModeInfo, len(domain.Modes))
			for _, m := range domain.Modes {
				info[m] = m.Info()
			}
			return modesResult{Modes: domain.Modes, Info: info, DefaultMode: store.DefaultMode()}, nil
		},

		"permissions.getSessionMode": func(ctx context.Context, body json.RawMessage) (any, error) {
			var p sessionParams
			if err := decodeParams(body, &p); err != nil {
				return nil, err
			}
			if err := requireSession(p.SessionID); err != nil {
				return nil, err
			}
			summary := store.Summary(p.SessionID)
			approved, denied := store.Approved(p.SessionID), store.Denied(p.SessionID)
			sort.Strings(approved)
			sort.Strings(denied)
			return sessionModeResult{
				CurrentMode:      summary.Mode,
				ModeInfo:         summary.Mode.Info(),
				Summary:          summary,
				ApprovedCommands: approved,
				DeniedCommands:   denied,
			}, nil
		},

		"permissions.setSessionMode": func(ctx context.Context, body json.RawMessage) (any, error) {
			var p modeParams
			if err := decodeParams(body, &p); err != nil {
				return nil, err
			}
			if err := requireSession(p.SessionID); err != nil {
				return nil, err
			}
			mode := domain.PermissionMode(p.Mode)
			if err := store.SetMode(p.SessionID, mode); err != nil {
				return nil, err
			}
			return successResult{Success: true, Mode: mode}, nil
		},

		"permissions.setDefaultMode": func(ctx context.Context, body json.RawMessage) (any, error) {
			var p modeParams
			if err := decodeParams(body, &p); err != nil {
				return nil, err
			}
			mode := domain.PermissionMode(p.Mode)
			if err := store.SetDefaultMode(mode); err != nil {
				return nil, err
			}
			return successResult{Success: true, DefaultMode: mode}, nil
		},

		"permissions.checkBashCommand": func(ctx context.Context, body json.RawMessage) (any, error) {
			var p commandParams
			if err := decodeParams(body, &p); err != nil {
				return nil, err
			}
			if err := requireSession(p.SessionID); err != nil {
				return nil, err
			}
			decision := s.classifier.CheckBash(p.SessionID, p.Command)
			if decision.Blocked {
				s.metrics.RecordBlocked()
			}
			return decision, nil
		},

		"permissions.checkToolCall": func(ctx context.Context, body json.RawMessage) (any, error) {
			var p toolCallParams
			if err := decodeParams(body, &p); err != nil {
				return nil, err
			}
			if err := requireSession(p.SessionID); err != nil {
				return nil, err
			}
			if strings.TrimSpace(p.ToolName) == "" {
				return nil, badRequest("toolName is required")
			}
			return s.classifier.CheckTool(p.SessionID, p.ToolName, p.Args), nil
		},

		"permissions.approveCommand": func(ctx context.Context, body json.RawMessage) (any, error) {
			p, err := decodeCommand(body)
			if err != nil {
				return nil, err
			}
			store.Approve(p.SessionID, p.Command)
			return successResult{Success: true}, nil
		},

		"permissions.denyCommand": func(ctx context.Context, body json.RawMessage) (any, error) {
			p, err := decodeCommand(body)
			if err != nil {
				return nil, err
			}
			store.Deny(p.SessionID, p.Command)
			return successResult{Success: true}, nil
		},

		"permissions.clearSession": func(ctx context.Context, body json.RawMessage) (any, error) {
			var p sessionParams
			if err := decodeParams(body, &p); err != nil {
				return nil, err
			}
			if err := requireSession(p.SessionID); err != nil {
				return nil, err
			}
			store.Clear(p.SessionID)
			return successResult{Success: true}, nil
		},
	}
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	proc, ok := s.procedures[name]
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", errUnknownProcedure, name))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, badRequest("read body: "+err.Error()))
		return
	}

	result, err := proc(r.Context(), body)
	if err != nil {
		s.log.WithRequest(requestIDFrom(r)).Debug("rpc_error", map[string]interface{}{"procedure": name, "error": err.Error()})
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func decodeParams(body json.RawMessage, v any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return badRequest("invalid params: " + err.Error())
	}
	return nil
}

func decodeCommand(body json.RawMessage) (commandParams, error) {
	var p commandParams
	if err := decodeParams(body, &p); err != nil {
		return p, err
	}
	if err := requireSession(p.SessionID); err != nil {
		return p, err
	}
	if strings.TrimSpace(p.Command) == "" {
		return p, badRequest("command is required")
	}
	return p, nil
}

func requireSession(id string) error {
	if strings.TrimSpace(id) == "" {
		return badRequest("sessionId is required")
	}
	return nil
}
