package devmirror

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/devmirror/interaction"
	"github.com/hazyhaar/devmirror/kit"
	"github.com/hazyhaar/devmirror/observability"
)

// RegisterMCP registers devmirror tools on an MCP server.
func (h *Host) RegisterMCP(srv *mcp.Server) {
	h.registerDevicesTool(srv)
	h.registerNavigateTool(srv)
	h.registerScreenshotTool(srv)
	h.registerScrollTool(srv)
	h.registerClickTool(srv)
	h.registerHistoryTool(srv)
}

// registerTool logs every call of endpoint under the tool name.
func (h *Host) registerTool(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, kit.Logging(h.logger, tool.Name)(endpoint), decode)
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

// --- devices ---

func (h *Host) registerDevicesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "devmirror_devices",
		Description: "List open devices with their viewport, current URL and readiness.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return map[string]any{"devices": h.Devices()}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	h.registerTool(srv, tool, endpoint, decode)
}

// --- navigate ---

type navigateReq struct {
	URL string `json:"url"`
}

func (h *Host) registerNavigateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "devmirror_navigate",
		Description: "Load a URL on every device.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Address to load"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*navigateReq)
		if r.URL == "" {
			return nil, errors.New("url required")
		}
		if err := h.Navigate(ctx, r.URL); err != nil {
			return nil, err
		}
		return map[string]any{"url": r.URL, "devices": len(h.Devices())}, nil
	}

	h.registerTool(srv, tool, endpoint, kit.DecodeJSON[navigateReq]())
}

// --- screenshot ---

type screenshotReq struct {
	DeviceID string `json:"device_id"`
	Mode     string `json:"mode"`
}

func (h *Host) registerScreenshotTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "devmirror_screenshot",
		Description: "Capture one device, full page (stitched) or visible viewport, and save it to the configured sinks.",
		InputSchema: inputSchema(map[string]any{
			"device_id": map[string]any{"type": "string", "description": "Device to capture"},
			"mode":      map[string]any{"type": "string", "enum": []string{"full", "visible"}, "description": "Capture mode, default full"},
		}, []string{"device_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*screenshotReq)
		ctrl, err := h.Controller(r.DeviceID)
		if err != nil {
			return nil, err
		}
		name, err := ctrl.Save(ctx, r.Mode)
		if err != nil {
			return nil, err
		}
		return map[string]any{"file_name": name}, nil
	}

	h.registerTool(srv, tool, endpoint, kit.DecodeJSON[screenshotReq]())
}

// --- scroll ---

type scrollReq struct {
	Direction string `json:"direction"`
	DeviceID  string `json:"device_id"`
}

func (h *Host) registerScrollTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "devmirror_scroll",
		Description: "Scroll devices one step up or down. Without device_id every device scrolls.",
		InputSchema: inputSchema(map[string]any{
			"direction": map[string]any{"type": "string", "enum": []string{"up", "down"}},
			"device_id": map[string]any{"type": "string", "description": "Optional single device"},
		}, []string{"direction"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*scrollReq)
		topic := interaction.TopicScrollDown
		switch r.Direction {
		case "down":
		case "up":
			topic = interaction.TopicScrollUp
		default:
			return nil, errors.New("direction must be up or down")
		}
		if err := h.Command(ctx, topic, interaction.Command{DeviceID: r.DeviceID}); err != nil {
			return nil, err
		}
		return map[string]any{"topic": topic}, nil
	}

	h.registerTool(srv, tool, endpoint, kit.DecodeJSON[scrollReq]())
}

// --- click ---

type clickReq struct {
	DeviceID string `json:"device_id"`
	CSSPath  string `json:"css_path"`
}

func (h *Host) registerClickTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "devmirror_click",
		Description: "Click the element at a CSS path on one device; the click is mirrored to the other devices.",
		InputSchema: inputSchema(map[string]any{
			"device_id": map[string]any{"type": "string", "description": "Device to click on"},
			"css_path":  map[string]any{"type": "string", "description": "CSS path of the target element, e.g. body > div:nth-of-type(2) > a"},
		}, []string{"device_id", "css_path"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*clickReq)
		if err := h.Click(ctx, r.DeviceID, r.CSSPath); err != nil {
			return nil, err
		}
		return map[string]any{"device_id": r.DeviceID, "css_path": r.CSSPath}, nil
	}

	h.registerTool(srv, tool, endpoint, kit.DecodeJSON[clickReq]())
}

// --- history ---

type historyReq struct {
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
	Limit    int    `json:"limit"`
}

func (h *Host) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "devmirror_history",
		Description: "List recent screenshot attempts from the capture journal.",
		InputSchema: inputSchema(map[string]any{
			"device_id": map[string]any{"type": "string"},
			"status":    map[string]any{"type": "string", "enum": []string{"success", "error"}},
			"limit":     map[string]any{"type": "integer", "description": "Max entries, default 50"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*historyReq)
		if h.journal == nil {
			return nil, errors.New("journal disabled")
		}
		entries, err := h.journal.History(ctx, observability.Filter{
			DeviceID: r.DeviceID,
			Status:   r.Status,
			Limit:    r.Limit,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"captures": entries}, nil
	}

	h.registerTool(srv, tool, endpoint, kit.DecodeJSON[historyReq]())
}
