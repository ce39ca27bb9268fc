package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/fairwaylabs/mcp-gateway/internal/gateway/proxy"
	"github.com/fairwaylabs/mcp-gateway/internal/gateway/registry"
	"github.com/fairwaylabs/mcp-gateway/internal/shared/models"
)

func listParticipantsDescriptor() registry.Descriptor {
	return registry.Descriptor{
		Name:          "list_participants",
		Description:   "List participants registered for an event",
		RequiredScope: ScopeRead,
		Params: []registry.ParamSpec{
			{Name: "event_id", Type: registry.TypeInteger, Description: "Event identifier", Required: true, Min: f(1)},
			{Name: "include_inactive", Type: registry.TypeBoolean, Description: "Include withdrawn participants", Required: false, Default: false},
		},
	}
}

func listParticipants(client *proxy.Client) registry.InvokeFunc {
	return func(ctx context.Context, params map[string]any, record *models.AuthRecord) (any, error) {
		eventID := params["event_id"].(int)

		query := url.Values{}
		if include, _ := params["include_inactive"].(bool); include {
			query.Set("include_inactive", "true")
		}

		path := fmt.Sprintf("/api/events/%d/participants", eventID)
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
