package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/responses"

	"github.com/lubepos/lubepos/internal/shared"
)

// ToolHandler runs a tool with its raw JSON arguments.
type ToolHandler func(ctx context.Context, args json.RawMessage) (any, error)

// ToolDefinition describes one read-only tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
	Handler     ToolHandler    `json:"-"`
}

// ToolRegistry holds the tools exposed to the assistant.
type ToolRegistry struct {
	tools []ToolDefinition
}

type debtsArgs struct{}

type ledgerArgs struct {
	From string `json:"from,omitempty" jsonschema_description:"Start date, YYYY-MM-DD or RFC3339; empty for no lower bound"`
	To   string `json:"to,omitempty" jsonschema_description:"End date, YYYY-MM-DD or RFC3339; a bare date includes the whole day"`
}

type inventoryArgs struct {
	Search     string  `json:"search,omitempty" jsonschema_description:"Case-insensitive product name fragment"`
	ProductIDs []int64 `json:"product_ids,omitempty" jsonschema_description:"Restrict the view to these product ids"`
}

type tabsArgs struct {
	Role string `json:"role,omitempty" jsonschema:"enum=admin,enum=accountant,enum=staff" jsonschema_description:"Role to inspect; empty for the caller's own role"`
}

// NewToolRegistry registers the assistant queries of svc.
func NewToolRegistry(svc *Service) *ToolRegistry {
	r := &ToolRegistry{}
	r.Register(ToolDefinition{
		Name:        "query_user_debts",
		Description: "List user balances and the deferred sales each user still owes the shop.",
		InputSchema: schemaOf(debtsArgs{}),
		Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return svc.UserDebts(ctx)
		},
	})
	r.Register(ToolDefinition{
		Name:        "query_fund_ledger",
		Description: "List fund transfers and payouts within a date range.",
		InputSchema: schemaOf(ledgerArgs{}),
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args ledgerArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			from, err := parseDate(args.From, false)
			if err != nil {
				return nil, err
			}
			to, err := parseDate(args.To, true)
			if err != nil {
				return nil, err
			}
			return svc.FundLedger(ctx, LedgerQuery{From: from, To: to})
		},
	})
	r.Register(ToolDefinition{
		Name:        "query_inventory_view",
		Description: "Show on-hand, deferred and system stock with tier prices for matching products.",
		InputSchema: schemaOf(inventoryArgs{}),
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args inventoryArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return svc.InventoryView(ctx, InventoryQuery{Search: args.Search, ProductIDs: args.ProductIDs})
		},
	})
	r.Register(ToolDefinition{
		Name:        "list_allowed_tabs",
		Description: "List the application tabs a role may open.",
		InputSchema: schemaOf(tabsArgs{}),
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args tabsArgs
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return svc.AllowedTabs(ctx, shared.Role(args.Role))
		},
	})
	return r
}

// Register adds a tool.
func (r *ToolRegistry) Register(t ToolDefinition) {
	r.tools = append(r.tools, t)
}

// Get returns the named tool.
func (r *ToolRegistry) Get(name string) (ToolDefinition, bool) {
	for _, t := range r.tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDefinition{}, false
}

// All returns every registered tool.
func (r *ToolRegistry) All() []ToolDefinition {
	return r.tools
}

// Call runs the named tool.
func (r *ToolRegistry) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	t, ok := r.Get(name)
	if !ok || t.Handler == nil {
		return nil, fmt.Errorf("%w: unknown tool %q", shared.ErrPermissionDenied, name)
	}
	return t.Handler(ctx, args)
}

// ToOpenAITools renders the registry as Responses API function tools.
func (r *ToolRegistry) ToOpenAITools() []responses.ToolUnionParam {
	out := make([]responses.ToolUnionParam, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

func schemaOf(v any) map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("assistant: schema: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("assistant: schema: %v", err))
	}
	delete(out, "$schema")
	return out
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: malformed tool arguments: %v", shared.ErrInvalidAmount, err)
	}
	return nil
}

func parseDate(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", shared.ErrInvalidAmount, raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
