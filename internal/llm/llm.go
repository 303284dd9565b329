// Package llm is the optional, non-core Analysis adjunct (C12): a natural-
// language fleet-health summary over the same aggregated status view
// GET /api/v1/status returns. It has no write access to the Store and is
// never called from the Reconciler or Scheduler (§10.6).
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/xxrust/device-version-manager/internal/store"
)

// Analyzer wraps an Anthropic client. A zero-value Analyzer (or one built
// with an empty apiKey) is "not configured" and Summarize is never called
// for it; callers check Configured() first.
type Analyzer struct {
	client  anthropic.Client
	model   anthropic.Model
	enabled bool
}

// New builds an Analyzer. An empty apiKey yields a disabled Analyzer rather
// than an error, since this adjunct's absence must never block startup.
func New(apiKey string) *Analyzer {
	if apiKey == "" {
		return &Analyzer{enabled: false}
	}
	return &Analyzer{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   anthropic.ModelClaude3_5Haiku20241022,
		enabled: true,
	}
}

func (a *Analyzer) Configured() bool { return a != nil && a.enabled }

// Summarize asks the configured chat model for a short natural-language
// summary of fleet health from the same entries the status endpoint serves.
func (a *Analyzer) Summarize(ctx context.Context, entries []*store.StatusEntry) (string, error) {
	if !a.Configured() {
		return "", fmt.Errorf("llm: not configured")
	}

	prompt := buildPrompt(entries)
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 400,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func buildPrompt(entries []*store.StatusEntry) string {
	var sb strings.Builder
	sb.WriteString("Summarize the health of this device fleet in two or three sentences. ")
	sb.WriteString("Call out anything in mismatch or files_changed state by name.\n\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s (%s/%s): %s\n", e.Device.DeviceKey, e.Device.Vendor, e.Device.Model, e.State)
	}
	return sb.String()
}
