package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"muster/internal/domain"
)

// AgentRow is the flattened, presentation-ready shape of one agent in a
// list result: everything a human table, json, or jsonl renderer needs,
// already joined with its host's identity.
type AgentRow struct {
	Id       domain.AgentId       `json:"id"`
	Name     domain.AgentName     `json:"name"`
	Type     domain.AgentTypeName `json:"type"`
	State    domain.LifecycleState `json:"state"`
	HostId   domain.HostId        `json:"host_id"`
	HostName domain.HostName      `json:"host_name"`
	Provider string               `json:"provider"`
	Age      time.Duration        `json:"-"`
	AgeSecs  float64              `json:"age_seconds"`
	IdleSecs float64              `json:"idle_seconds"`
}

// ProviderFailure is one provider's fan-out error, carried alongside
// whatever other providers successfully returned (§4.12 partial failure).
type ProviderFailure struct {
	Provider string `json:"provider"`
	Message  string `json:"message"`
}

// ListResult is the rendering-ready shape of fleet.ListAgents' output.
type ListResult struct {
	Agents []AgentRow        `json:"agents"`
	Errors []ProviderFailure `json:"errors"`
}

// RenderList writes result in the requested OutputFormat.
func RenderList(w io.Writer, result ListResult, format domain.OutputFormat) error {
	switch format {
	case domain.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case domain.OutputFormatJSONL:
		enc := json.NewEncoder(w)
		for _, a := range result.Agents {
			if err := enc.Encode(a); err != nil {
				return err
			}
		}
		for _, e := range result.Errors {
			if err := enc.Encode(map[string]string{"provider_error": e.Provider, "message": e.Message}); err != nil {
				return err
			}
		}
		return nil
	default:
		return renderListHuman(w, result)
	}
}

func renderListHuman(w io.Writer, result ListResult) error {
	tbl := NewPlainTableWriter(w)
	tbl.SetHeaders([]string{"name", "type", "state", "host", "provider", "age"})
	for _, a := range result.Agents {
		tbl.AppendRow([]string{
			string(a.Name),
			string(a.Type),
			string(a.State),
			string(a.HostName),
			a.Provider,
			formatDuration(a.Age),
		})
	}
	tbl.Render()

	for _, e := range result.Errors {
		fmt.Fprintf(w, "warning: provider %s: %s\n", e.Provider, e.Message)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// ItemResult is one item's outcome in a fleet-wide operation result (§4.12
// "structured result {successful, failed: [(name, message)], errors}").
type ItemResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// OperationResult is the rendering-ready shape of start/stop/cleanup/exec
// results.
type OperationResult struct {
	Items  []ItemResult `json:"items"`
	Errors []string     `json:"errors,omitempty"`
}

// RenderOperation writes an OperationResult in the requested format.
func RenderOperation(w io.Writer, result OperationResult, format domain.OutputFormat) error {
	switch format {
	case domain.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case domain.OutputFormatJSONL:
		enc := json.NewEncoder(w)
		for _, item := range result.Items {
			if err := enc.Encode(item); err != nil {
				return err
			}
		}
		return nil
	default:
		for _, item := range result.Items {
			if item.Success {
				fmt.Fprintf(w, "ok   %s\n", item.Name)
			} else {
				fmt.Fprintf(w, "FAIL %s: %s\n", item.Name, item.Message)
			}
		}
		return nil
	}
}
