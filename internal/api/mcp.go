package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/prefkit/internal/settings"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   settings.Store
	Domain  string
	Version string
}

var kindNames = []string{"bool", "int", "float", "string", "data", "date", "array", "dict"}

// NewMCPServer creates an MCP server exposing the settings of one store.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"prefkit",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions(fmt.Sprintf("prefkit: typed settings of domain %s.", deps.Domain)),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("list_settings",
			mcp.WithDescription("List the keys of every stored setting."),
		),
		mcpListSettings(deps),
	)

	s.AddTool(
		mcp.NewTool("get_setting",
			mcp.WithDescription("Read one setting. Returns {\"type\", \"value\"} JSON."),
			mcp.WithString("key", mcp.Description("Setting key"), mcp.Required()),
		),
		mcpGetSetting(deps),
	)

	s.AddTool(
		mcp.NewTool("set_setting",
			mcp.WithDescription("Write one setting. Arrays and dicts are given as JSON, data as base64, dates as RFC 3339."),
			mcp.WithString("key", mcp.Description("Setting key"), mcp.Required()),
			mcp.WithString("type", mcp.Description("Value type"), mcp.Required(), mcp.Enum(kindNames...)),
			mcp.WithString("value", mcp.Description("Value in its text form"), mcp.Required()),
		),
		mcpSetSetting(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_setting",
			mcp.WithDescription("Remove one setting so that readers fall back to their default."),
			mcp.WithString("key", mcp.Description("Setting key"), mcp.Required()),
		),
		mcpDeleteSetting(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"settings://all",
			"All Settings",
			mcp.WithResourceDescription("Every stored setting as a JSON object of wire values"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceAll(deps),
	)

	return s
}

func listKeys(st settings.Store) ([]string, error) {
	lister, ok := st.(settings.Lister)
	if !ok {
		return nil, fmt.Errorf("this store cannot list its keys")
	}
	keys, err := lister.Keys()
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

func mcpListSettings(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		keys, err := listKeys(deps.Store)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list settings: %v", err)), nil
		}
		b, err := json.Marshal(keys)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal keys: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetSetting(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}

		v, ok, err := deps.Store.Object(key)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read setting: %v", err)), nil
		}
		if !ok {
			return mcpError(fmt.Sprintf("setting %q not found", key)), nil
		}
		wire, err := EncodeValue(v)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to encode setting: %v", err)), nil
		}
		b, err := json.Marshal(wire)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal setting: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetSetting(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		typ, err := req.RequireString("type")
		if err != nil {
			return mcpError("type is required"), nil
		}
		text, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		kind, err := settings.ParseKind(typ)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		v, err := ParseText(kind, text)
		if err != nil {
			return mcpError(fmt.Sprintf("invalid %s value: %v", kind, err)), nil
		}
		if err := deps.Store.SetObject(key, v); err != nil {
			return mcpError(fmt.Sprintf("failed to write setting: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s = %s", key, FormatText(v))), nil
	}
}

func mcpDeleteSetting(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		if err := deps.Store.RemoveObject(key); err != nil {
			return mcpError(fmt.Sprintf("failed to delete setting: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Deleted %s", key)), nil
	}
}

func mcpResourceAll(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		keys, err := listKeys(deps.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to list settings: %w", err)
		}

		all := make(map[string]Value, len(keys))
		for _, key := range keys {
			v, ok, err := deps.Store.Object(key)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", key, err)
			}
			if !ok {
				continue
			}
			if all[key], err = EncodeValue(v); err != nil {
				return nil, fmt.Errorf("failed to encode %s: %w", key, err)
			}
		}

		b, err := json.Marshal(all)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal settings: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
