// Package control exposes session lifecycle operations as MCP tools so an
// operator or agent can drive the supervisor over stdio.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/germanamz/sessiond/pkg/config"
	"github.com/germanamz/sessiond/pkg/supervisor"
)

// Sessions is the part of the supervisor the tools drive.
type Sessions interface {
	Upsert(ctx context.Context, name string, cfg *config.SessionConfig) error
	Start(ctx context.Context, name string) (supervisor.Summary, error)
	Stop(ctx context.Context, name string, silent bool) error
	Unpair(ctx context.Context, name string)
	Logout(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
	Sessions(all bool) []supervisor.SessionInfo
	SessionInfo(ctx context.Context, name string) *supervisor.SessionDetailedInfo
}

// Handler executes a tool with the given JSON input and returns a text result.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Tool is an executable tool with a name, description, JSON Schema and handler.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

var nameSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"name": {"type": "string", "description": "Session name"}},
	"required": ["name"]
}`)

type nameInput struct {
	Name string `json:"name"`
}

type listInput struct {
	All bool `json:"all"`
}

type stopInput struct {
	Name   string `json:"name"`
	Silent bool   `json:"silent"`
}

type upsertInput struct {
	Name   string               `json:"name"`
	Config config.SessionConfig `json:"config"`
}

// Tools returns the session tools backed by sessions.
func Tools(sessions Sessions) []Tool {
	return []Tool{
		{
			Name:        "list_sessions",
			Description: "List running sessions, or every configured session when all is true.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"all":{"type":"boolean"}}}`),
			Handler: func(_ context.Context, input json.RawMessage) (string, error) {
				var in listInput
				if err := decode(input, &in); err != nil {
					return "", err
				}
				return encode(sessions.Sessions(in.All))
			},
		},
		{
			Name:        "session_info",
			Description: "Show a session with its engine diagnostics.",
			InputSchema: nameSchema,
			Handler: named(func(ctx context.Context, name string) (string, error) {
				info := sessions.SessionInfo(ctx, name)
				if info == nil {
					return "", fmt.Errorf("session %q not found", name)
				}
				return encode(info)
			}),
		},
		{
			Name:        "upsert_session",
			Description: "Create or replace a session's configuration.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"config": {"type": "object"}
				},
				"required": ["name"]
			}`),
			Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
				var in upsertInput
				if err := decode(input, &in); err != nil {
					return "", err
				}
				if in.Name == "" {
					return "", errors.New("name is required")
				}
				for _, hook := range in.Config.Webhooks {
					if err := config.ValidateWebhook(hook); err != nil {
						return "", err
					}
				}
				if err := sessions.Upsert(ctx, in.Name, &in.Config); err != nil {
					return "", err
				}
				return "saved " + in.Name, nil
			},
		},
		{
			Name:        "start_session",
			Description: "Start a session.",
			InputSchema: nameSchema,
			Handler: named(func(ctx context.Context, name string) (string, error) {
				summary, err := sessions.Start(ctx, name)
				if err != nil {
					return "", err
				}
				return encode(summary)
			}),
		},
		{
			Name:        "stop_session",
			Description: "Stop a running session. Silent skips the error when it is not running.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"silent": {"type": "boolean"}
				},
				"required": ["name"]
			}`),
			Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
				var in stopInput
				if err := decode(input, &in); err != nil {
					return "", err
				}
				if in.Name == "" {
					return "", errors.New("name is required")
				}
				if err := sessions.Stop(ctx, in.Name, in.Silent); err != nil {
					return "", err
				}
				return "stopped " + in.Name, nil
			},
		},
		{
			Name:        "unpair_session",
			Description: "Unlink the account of a running session.",
			InputSchema: nameSchema,
			Handler: named(func(ctx context.Context, name string) (string, error) {
				sessions.Unpair(ctx, name)
				return "unpaired " + name, nil
			}),
		},
		{
			Name:        "logout_session",
			Description: "Remove a session's stored authentication.",
			InputSchema: nameSchema,
			Handler: named(func(ctx context.Context, name string) (string, error) {
				if err := sessions.Logout(ctx, name); err != nil {
					return "", err
				}
				return "logged out " + name, nil
			}),
		},
		{
			Name:        "delete_session",
			Description: "Stop a session and remove its configuration, authentication and media.",
			InputSchema: nameSchema,
			Handler: named(func(ctx context.Context, name string) (string, error) {
				if err := sessions.Delete(ctx, name); err != nil {
					return "", err
				}
				return "deleted " + name, nil
			}),
		},
	}
}

func named(fn func(ctx context.Context, name string) (string, error)) Handler {
	return func(ctx context.Context, input json.RawMessage) (string, error) {
		var in nameInput
		if err := decode(input, &in); err != nil {
			return "", err
		}
		if in.Name == "" {
			return "", errors.New("name is required")
		}
		return fn(ctx, in.Name)
	}
}

func decode(input json.RawMessage, v any) error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("control: invalid input: %w", err)
	}
	return nil
}

func encode(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("control: encode result: %w", err)
	}
	return string(data), nil
}
