// Package tools registers the gateway's business tools. Each tool is a thin
// formatting layer over the backend proxy; recoverable enrichment failures
// degrade to partial results, everything else propagates to the dispatcher.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/fairwaylabs/mcp-gateway/internal/gateway/proxy"
	"github.com/fairwaylabs/mcp-gateway/internal/gateway/registry"
	"github.com/fairwaylabs/mcp-gateway/internal/shared/models"
)

// ScopeRead is the scope every read-only business tool requires.
const ScopeRead = "mcp:read"

// RegisterAll registers every business tool with the registry.
func RegisterAll(reg *registry.Registry, client *proxy.Client, logger *slog.Logger) error {
	tools := []struct {
		desc   registry.Descriptor
		invoke registry.InvokeFunc
	}{
		{listExpenseSheetsDescriptor(), listExpenseSheets(client)},
		{getExpenseSheetDescriptor(), getExpenseSheet(client, logger)},
		{listParticipantsDescriptor(), listParticipants(client)},
	}

	for _, t := range tools {
		if err := reg.Register(t.desc, t.invoke); err != nil {
			return fmt.Errorf("registering %s: %w", t.desc.Name, err)
		}
	}
	return nil
}

func listExpenseSheetsDescriptor() registry.Descriptor {
	return registry.Descriptor{
		Name:          "list_expense_sheets",
		Description:   "List the caller's expense sheets, optionally filtered by season",
		RequiredScope: ScopeRead,
		Params: []registry.ParamSpec{
			{Name: "season", Type: registry.TypeString, Description: "Season identifier, e.g. 2026", Required: false},
			{Name: "limit", Type: registry.TypeInteger, Description: "Maximum number of sheets", Required: false, Default: 20, Min: f(1), Max: f(100)},
		},
	}
}

func listExpenseSheets(client *proxy.Client) registry.InvokeFunc {
	return func(ctx context.Context, params map[string]any, record *models.AuthRecord) (any, error) {
		query := url.Values{}
		if season, ok := params["season"].(string); ok && season != "" {
			query.Set("season", season)
		}
		if limit, ok := params["limit"].(int); ok {
			query.Set("limit", fmt.Sprintf("%d", limit))
		}

		path := "/api/expense-sheets"
		if encoded := query.Encode(); encoded != "" {
			path += "?" + encoded
		}

		raw, err := client.Get(ctx, path, record)
		if err != nil {
			return nil, err
		}

		return json.RawMessage(raw), nil
	}
}

func getExpenseSheetDescriptor() registry.Descriptor {
	return registry.Descriptor{
		Name:          "get_expense_sheet",
		Description:   "Fetch a single expense sheet with its participant summary",
		RequiredScope: ScopeRead,
		Params: []registry.ParamSpec{
			{Name: "sheet_id", Type: registry.TypeInteger, Description: "Expense sheet identifier", Required: true, Min: f(1)},
			{Name: "include_participants", Type: registry.TypeBoolean, Description: "Attach the participant summary", Required: false, Default: true},
		},
	}
}

func getExpenseSheet(client *proxy.Client, logger *slog.Logger) registry.InvokeFunc {
	return func(ctx context.Context, params map[string]any, record *models.AuthRecord) (any, error) {
		sheetID := params["sheet_id"].(int)

		sheet, err := client.Get(ctx, fmt.Sprintf("/api/expense-sheets/%d", sheetID), record)
		if err != nil {
			return nil, err
		}

		result := map[string]any{"sheet": json.RawMessage(sheet)}

		// Participant enrichment is optional: a failure here degrades to a
		// partial result instead of failing the whole request.
		if include, _ := params["include_participants"].(bool); include {
			participants, err := client.Get(ctx, fmt.Sprintf("/api/expense-sheets/%d/participants", sheetID), record)
			if err != nil {
				logger.Warn("participant enrichment failed", "sheet_id", sheetID, "error", err)
				result["participants_unavailable"] = true
			} else {
				result["participants"] = json.RawMessage(participants)
			}
		}

		return result, nil
	}
}

func f(v float64) *float64 {
	return &v
}
