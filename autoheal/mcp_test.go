package autoheal

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

var testMCPImpl = &mcp.Implementation{Name: "autoheal-test", Version: "0.1.0"}

func mcpSession(t *testing.T, h *Healer) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	h.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

func TestMCP_HealHTML_Suggest(t *testing.T) {
	h := newHealer(t, nil)
	session := mcpSession(t, h)

	text := mcpCallTool(t, session, "autoheal_heal_html", map[string]any{
		"html":     sauceLogin,
		"url":      sauceURL,
		"selector": "#user-name-broken-selector",
	})

	var resp struct {
		Success  bool            `json:"success"`
		Selector locator.Locator `json:"selector"`
		Heal     HealResult      `json:"heal"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success || resp.Selector != "#user-name" {
		t.Errorf("got success=%v selector=%q, want #user-name", resp.Success, resp.Selector)
	}
	if resp.Heal.Strategy != locator.StrategyHeuristic {
		t.Errorf("strategy: got %q, want heuristic", resp.Heal.Strategy)
	}
}

func TestMCP_HealHTML_ActionThenSummary(t *testing.T) {
	h := newHealer(t, nil)
	session := mcpSession(t, h)

	text := mcpCallTool(t, session, "autoheal_heal_html", map[string]any{
		"html":     sauceLogin,
		"url":      sauceURL,
		"selector": `[data-test="login-btn"]`,
		"action":   "click",
	})
	var resp struct {
		Success  bool            `json:"success"`
		Selector locator.Locator `json:"selector"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Selector != `[data-test="login-button"]` {
		t.Errorf("selector: got %q, want %q", resp.Selector, `[data-test="login-button"]`)
	}

	text = mcpCallTool(t, session, "autoheal_summary", map[string]any{})
	var sum struct {
		Summary locator.Summary  `json:"summary"`
		Healed  []locator.Healed `json:"healed"`
	}
	if err := json.Unmarshal([]byte(text), &sum); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sum.Summary.Succeeded != 1 || len(sum.Healed) != 1 {
		t.Errorf("summary: got %+v", sum)
	}

	text = mcpCallTool(t, session, "autoheal_results", map[string]any{"only_failed": true})
	var res struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Count != 0 {
		t.Errorf("failed records: got %d, want 0", res.Count)
	}
}

func TestMCP_HealHTML_Errors(t *testing.T) {
	h := newHealer(t, nil)
	session := mcpSession(t, h)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing selector", map[string]any{"html": sauceLogin}},
		{"unhealable", map[string]any{"html": sauceLogin, "selector": "#totally-unrelated-xyz", "action": "click"}},
		{"unknown action", map[string]any{"html": sauceLogin, "selector": "#user-name", "action": "drag"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
				Name:      "autoheal_heal_html",
				Arguments: tt.args,
			})
			if err != nil {
				t.Fatalf("CallTool: %v", err)
			}
			if !result.IsError {
				t.Errorf("got success, want a tool error")
			}
		})
	}
}
