// CLAUDE:SUMMARY Registers autoheal_heal_html, autoheal_results and autoheal_summary MCP tools on a Healer.
package autoheal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/selfheal/autoheal/htmlpage"
	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// RegisterMCP registers the healer tools on an MCP server.
func (h *Healer) RegisterMCP(srv *mcp.Server) {
	h.registerHealHTMLTool(srv)
	h.registerResultsTool(srv)
	h.registerSummaryTool(srv)
}

type toolEndpoint func(ctx context.Context, req any) (any, error)

// registerTool adds tool to srv. decode turns the raw arguments into the
// request handed to endpoint; the endpoint's response is returned as JSON
// text content. Both decode and endpoint failures become tool errors.
func registerTool(srv *mcp.Server, tool *mcp.Tool, endpoint toolEndpoint, decode func(*mcp.CallToolRequest) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}

		resp, err := endpoint(ctx, decoded)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func decodeArgs[T any](req *mcp.CallToolRequest) (any, error) {
	var r T
	if len(req.Params.Arguments) == 0 {
		return &r, nil
	}
	if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// --- heal_html ---

type healHTMLReq struct {
	HTML     string `json:"html"`
	URL      string `json:"url"`
	Selector string `json:"selector"`
	Action   string `json:"action"`
	Value    string `json:"value"`
}

type healHTMLResp struct {
	Success  bool             `json:"success"`
	Selector locator.Locator  `json:"selector"`
	Output   string           `json:"output,omitempty"`
	Heal     *HealResult      `json:"heal,omitempty"`
	Events   []htmlpage.Event `json:"events,omitempty"`
}

const healHTMLDescription = "Heal a broken selector against an HTML document. Without an action, returns the best " +
	"verified replacement. With an action (fill, click, check, uncheck, select, hover, getText), performs it with healing."

func (h *Healer) registerHealHTMLTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "autoheal_heal_html",
		Description: healHTMLDescription,
		InputSchema: inputSchema(map[string]any{
			"html":     map[string]any{"type": "string", "description": "Document HTML"},
			"url":      map[string]any{"type": "string", "description": "Page URL, used to scope the healing cache"},
			"selector": map[string]any{"type": "string", "description": "The broken selector"},
			"action":   map[string]any{"type": "string", "description": "Optional action to perform"},
			"value":    map[string]any{"type": "string", "description": "Text to fill or option to select"},
		}, []string{"html", "selector"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*healHTMLReq)
		if r.Selector == "" {
			return nil, errors.New("selector is required")
		}
		pageURL := r.URL
		if pageURL == "" {
			pageURL = "about:blank"
		}
		page, err := htmlpage.New(pageURL, []byte(r.HTML))
		if err != nil {
			return nil, err
		}
		sel := locator.Locator(r.Selector)

		if r.Action == "" {
			res, err := h.HealSelector(ctx, page, sel)
			if err != nil {
				return nil, err
			}
			resp := healHTMLResp{Success: res.Success, Selector: sel, Heal: &res}
			if res.Success {
				resp.Selector = res.NewSelector
			}
			return resp, nil
		}

		act := locator.Action{Kind: locator.ActionKind(r.Action), Value: r.Value}
		id, _ := page.Identity(ctx)
		out, err := h.PerformAction(ctx, page, id, sel, act)
		if err != nil {
			return nil, err
		}
		resp := healHTMLResp{Success: true, Selector: sel, Output: out, Events: page.Events()}
		if ev := resp.Events; len(ev) > 0 {
			resp.Selector = ev[len(ev)-1].Locator
		}
		return resp, nil
	}

	registerTool(srv, tool, endpoint, decodeArgs[healHTMLReq])
}

// --- results ---

type resultsReq struct {
	Scope       string `json:"scope"`
	OnlyFailed  bool   `json:"only_failed"`
	OnlySuccess bool   `json:"only_success"`
}

func (h *Healer) registerResultsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "autoheal_results",
		Description: "List the healing records of this session, oldest first.",
		InputSchema: inputSchema(map[string]any{
			"scope":        map[string]any{"type": "string", "description": "Only records for this page scope"},
			"only_failed":  map[string]any{"type": "boolean", "description": "Only failed healing attempts"},
			"only_success": map[string]any{"type": "boolean", "description": "Only successful healing attempts"},
		}, nil),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*resultsReq)
		out := []locator.HealingRecord{}
		for _, rec := range h.Results() {
			if r.Scope != "" && rec.Page.Scope != r.Scope {
				continue
			}
			if (r.OnlyFailed && rec.Success) || (r.OnlySuccess && !rec.Success) {
				continue
			}
			out = append(out, rec)
		}
		return map[string]any{"records": out, "count": len(out)}, nil
	}

	registerTool(srv, tool, endpoint, decodeArgs[resultsReq])
}

// --- summary ---

func (h *Healer) registerSummaryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "autoheal_summary",
		Description: "Summarize healing outcomes and list the selectors that should be updated in source.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return map[string]any{
			"summary": h.Summarize(),
			"healed":  h.HealedSelectors(),
		}, nil
	}

	registerTool(srv, tool, endpoint, decodeArgs[struct{}])
}
