package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ScriptHook runs a command with the payload in its environment.
type ScriptHook struct {
	name     string
	triggers []Trigger
	command  []string
}

// NewScriptHook creates a script hook from cfg.
func NewScriptHook(cfg Config) (Hook, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("command required")
	}
	return &ScriptHook{name: cfg.Name, triggers: cfg.On, command: cfg.Command}, nil
}

func (h *ScriptHook) Name() string        { return h.name }
func (h *ScriptHook) Triggers() []Trigger { return h.triggers }

// Execute runs the command. The payload is passed as LOOM_* variables
// appended to the current environment.
func (h *ScriptHook) Execute(ctx context.Context, p Payload) error {
	cmd := exec.CommandContext(ctx, h.command[0], h.command[1:]...)
	cmd.Env = append(os.Environ(), payloadEnv(p)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("script failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func payloadEnv(p Payload) []string {
	env := []string{
		"LOOM_HOOK_TRIGGER=" + string(p.Trigger),
		"LOOM_RUN_ID=" + p.RunID,
		"LOOM_STATUS=" + p.Status,
	}
	if p.NodeID != "" {
		env = append(env, "LOOM_NODE_ID="+p.NodeID)
	}
	if p.Error != "" {
		env = append(env, "LOOM_ERROR="+p.Error)
	}
	if p.Trigger == TriggerRunCompleted || p.Trigger == TriggerRunFailed {
		env = append(env,
			"LOOM_COMPLETED="+strconv.Itoa(p.Completed),
			"LOOM_FAILED="+strconv.Itoa(p.Failed),
			"LOOM_BLOCKED="+strconv.Itoa(p.Blocked),
		)
	}
	return env
}

// WebhookHook posts the payload as JSON.
type WebhookHook struct {
	name     string
	triggers []Trigger
	url      string
	headers  map[string]string
	client   *http.Client
}

// NewWebhookHook creates a webhook hook from cfg.
func NewWebhookHook(cfg Config) (Hook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook URL required")
	}
	return &WebhookHook{
		name:     cfg.Name,
		triggers: cfg.On,
		url:      cfg.URL,
		headers:  cfg.Headers,
		client:   &http.Client{},
	}, nil
}

func (h *WebhookHook) Name() string        { return h.name }
func (h *WebhookHook) Triggers() []Trigger { return h.triggers }

func (h *WebhookHook) Execute(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
