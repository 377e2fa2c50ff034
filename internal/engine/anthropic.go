package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ankittk/deskpilot/internal/otel"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicOpts configures the Anthropic Messages API engine.
type AnthropicOpts struct {
	BaseURL    string // empty uses the SDK default
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// Anthropic implements Engine for the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic returns an Anthropic engine. Model and APIKey are required.
func NewAnthropic(opts AnthropicOpts) (*Anthropic, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("engine/anthropic: API key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("engine/anthropic: model is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	return &Anthropic{client: anthropic.NewClient(reqOpts...), model: opts.Model}, nil
}

// Complete sends one non-streaming Messages request.
func (a *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := a.complete(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	otel.RecordEngineCall(ctx, "anthropic", status, time.Since(start))
	return resp, err
}

func (a *Anthropic) complete(ctx context.Context, req Request) (*Response, error) {
	msg, err := a.client.Messages.New(ctx, a.buildParams(req))
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, anthropicProviderError(apiErr)
		}
		return nil, fmt.Errorf("engine/anthropic: %w", err)
	}
	resp := &Response{
		StopReason: string(msg.StopReason),
		Usage:      Usage{InputTokens: msg.Usage.InputTokens, OutputTokens: msg.Usage.OutputTokens},
	}
	for _, b := range msg.Content {
		switch b.Type {
		case "text":
			resp.Content = append(resp.Content, TextBlock(b.Text))
		case "tool_use":
			resp.Content = append(resp.Content, ToolUseBlock(b.ID, b.Name, b.Input))
		}
	}
	return resp, nil
}

func (a *Anthropic) buildParams(req Request) anthropic.MessageNewParams {
	maxTokens := int64(req.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, m := range req.Messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, b := range m.Content {
			if block, ok := toAnthropicBlock(b); ok {
				blocks = append(blocks, block)
			}
		}
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
		}
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, toAnthropicTool(t))
	}
	return params
}

func toAnthropicTool(t Tool) anthropic.ToolUnionParam {
	schema := anthropic.ToolInputSchemaParam{Properties: t.InputSchema["properties"]}
	switch req := t.InputSchema["required"].(type) {
	case []string:
		schema.Required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	tool := anthropic.ToolParam{Name: t.Name, InputSchema: schema}
	if t.Description != "" {
		tool.Description = anthropic.String(t.Description)
	}
	return anthropic.ToolUnionParam{OfTool: &tool}
}

// toAnthropicBlock maps one transcript block. Empty text blocks are dropped
// since the API rejects them. Screenshot results travel as a base64 image
// inside the tool_result.
func toAnthropicBlock(b ContentBlock) (anthropic.ContentBlockParamUnion, bool) {
	switch b.Type {
	case BlockText:
		if b.Text == "" {
			return anthropic.ContentBlockParamUnion{}, false
		}
		return anthropic.NewTextBlock(b.Text), true
	case BlockToolUse:
		input := b.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return anthropic.NewToolUseBlock(b.ID, input, b.Name), true
	case BlockToolResult:
		if b.MediaType == "" {
			return anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError), true
		}
		result := anthropic.ToolResultBlockParam{
			ToolUseID: b.ToolUseID,
			Content: []anthropic.ToolResultBlockParamContentUnion{{
				OfImage: &anthropic.ImageBlockParam{
					Source: anthropic.ImageBlockParamSourceUnion{
						OfBase64: &anthropic.Base64ImageSourceParam{
							Data:      b.Content,
							MediaType: anthropic.Base64ImageSourceMediaType(b.MediaType),
						},
					},
				},
			}},
		}
		if b.IsError {
			result.IsError = anthropic.Bool(true)
		}
		return anthropic.ContentBlockParamUnion{OfToolResult: &result}, true
	}
	return anthropic.ContentBlockParamUnion{}, false
}

// anthropicProviderError reads {"error":{"type":"...","message":"..."}} from
// the SDK error body.
func anthropicProviderError(apiErr *anthropic.Error) *ProviderError {
	var wire struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	raw := apiErr.RawJSON()
	if json.Unmarshal([]byte(raw), &wire) == nil && wire.Error.Message != "" {
		return &ProviderError{StatusCode: apiErr.StatusCode, Type: wire.Error.Type, Message: wire.Error.Message}
	}
	msg := strings.TrimSpace(raw)
	if msg == "" {
		msg = apiErr.Error()
	}
	return &ProviderError{StatusCode: apiErr.StatusCode, Message: msg}
}
