package mcpr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/conikeec/mcpr/router"
)

// ProtocolVersion is the session protocol revision this client speaks.
const ProtocolVersion = "2024-11-05"

// capabilityCore routes session-level methods (initialize, shutdown,
// server_info). It has no explicit binding, so it always resolves to the
// default transport.
const capabilityCore router.Capability = "core"

// Implementation identifies one side of a session.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Tool describes a callable tool advertised by the server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Resource describes an addressable resource advertised by the server.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
}

// ResourceContents is the payload of one fetched resource.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mime_type,omitempty"`
	Text     string `json:"text,omitempty"`
}

// PromptArgument describes one argument a prompt template accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt describes a prompt template advertised by the server.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithClientInfo sets the identity announced during initialization.
func WithClientInfo(name, version string) ClientOption {
	return func(c *Client) {
		c.clientInfo = Implementation{Name: name, Version: version}
	}
}

// WithCapabilities sets the capability payload announced during
// initialization.
func WithCapabilities(caps map[string]any) ClientOption {
	return func(c *Client) { c.capabilities = caps }
}

// WithCallTimeout sets the per-call deadline for the client's session
// operations.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client layers the session protocol over a Dispatcher: the initialize
// handshake, tool calls, resource and prompt access, and shutdown. A Client
// is safe for concurrent use once Initialize has returned.
type Client struct {
	d            *Dispatcher
	clientInfo   Implementation
	capabilities map[string]any
	timeout      time.Duration

	mu         sync.Mutex
	serverInfo *Implementation
	tools      []Tool
}

// NewClient wraps an already-constructed Dispatcher.
func NewClient(d *Dispatcher, opts ...ClientOption) *Client {
	c := &Client{
		d:          d,
		clientInfo: Implementation{Name: "mcpr", Version: "0.1.0"},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect builds the dispatcher from cfg and wraps it in a Client. The
// caller still runs Initialize before issuing session operations.
func Connect(ctx context.Context, cfg router.Config, opts ...ClientOption) (*Client, error) {
	d, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(d, opts...), nil
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocol_version"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"client_info"`
}

type initializeResult struct {
	ProtocolVersion string          `json:"protocol_version"`
	ServerInfo      *Implementation `json:"server_info"`
	Tools           []Tool          `json:"tools"`
}

// Initialize performs the session handshake and returns the server's
// identity. Tools advertised in the handshake are retained and available
// through Tools.
func (c *Client) Initialize(ctx context.Context) (*Implementation, error) {
	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    c.capabilities,
		ClientInfo:      c.clientInfo,
	}
	if params.Capabilities == nil {
		params.Capabilities = map[string]any{}
	}

	raw, err := c.d.Call(ctx, capabilityCore, "initialize", params, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	var res initializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("initialize: decoding result: %w", err)
	}
	if res.ServerInfo == nil {
		return nil, fmt.Errorf("initialize: response carries no server_info")
	}

	c.mu.Lock()
	c.serverInfo = res.ServerInfo
	c.tools = res.Tools
	c.mu.Unlock()
	return res.ServerInfo, nil
}

// ServerInfo returns the identity captured during Initialize, or nil before
// the handshake.
func (c *Client) ServerInfo() *Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Tools returns the tool list captured during Initialize.
func (c *Client) Tools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tools
}

type toolCallParams struct {
	Name       string `json:"name"`
	Parameters any    `json:"parameters"`
}

// CallTool invokes a named tool and decodes its result payload into out.
// Pass a nil out to discard the payload.
func (c *Client) CallTool(ctx context.Context, name string, params any, out any) error {
	raw, err := c.d.Call(ctx, router.CapabilityTool, "tool_call", toolCallParams{Name: name, Parameters: params}, c.timeout)
	if err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("tool %s: decoding result: %w", name, err)
	}
	if envelope.Result == nil {
		return fmt.Errorf("tool %s: response carries no result", name)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

// GetResource fetches a resource by URI.
func (c *Client) GetResource(ctx context.Context, uri string) (*ResourceContents, error) {
	raw, err := c.d.Call(ctx, router.CapabilityResource, "resources/get", map[string]string{"uri": uri}, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", uri, err)
	}

	var envelope struct {
		Resource *ResourceContents `json:"resource"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("resource %s: decoding result: %w", uri, err)
	}
	if envelope.Resource == nil {
		return nil, fmt.Errorf("resource %s: response carries no resource", uri)
	}
	return envelope.Resource, nil
}

// ListResources returns the resources the server advertises.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	raw, err := c.d.Call(ctx, router.CapabilityResource, "resources/list", nil, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("resources/list: %w", err)
	}

	var envelope struct {
		Resources []Resource `json:"resources"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("resources/list: decoding result: %w", err)
	}
	return envelope.Resources, nil
}

// ListPrompts returns the prompt templates the server advertises.
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	raw, err := c.d.Call(ctx, router.CapabilityPrompt, "prompts/list", nil, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("prompts/list: %w", err)
	}

	var envelope struct {
		Prompts []Prompt `json:"prompts"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("prompts/list: decoding result: %w", err)
	}
	return envelope.Prompts, nil
}

// Shutdown asks the server to end the session, then closes every connection
// regardless of whether the request succeeded.
func (c *Client) Shutdown(ctx context.Context) error {
	_, callErr := c.d.Call(ctx, capabilityCore, "shutdown", nil, c.timeout)
	closeErr := c.d.Shutdown(ctx)
	if callErr != nil {
		return fmt.Errorf("shutdown: %w", callErr)
	}
	return closeErr
}
