package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ankittk/deskpilot/internal/otel"
)

// OpenAIOpts configures an OpenAI-compatible chat completions engine.
type OpenAIOpts struct {
	BaseURL    string // empty uses the SDK default; set for OpenRouter, vLLM, Ollama, ...
	APIKey     string
	Model      string // e.g. gpt-4o
	HTTPClient *http.Client
}

// OpenAI implements Engine over chat completions. tool_use blocks map to
// tool_calls; screenshot results are sent as image parts.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI returns an OpenAI engine. Model is required.
func NewOpenAI(opts OpenAIOpts) (*OpenAI, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("engine/openai: model is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	return &OpenAI{client: openai.NewClient(reqOpts...), model: opts.Model}, nil
}

// Complete sends one chat completion request.
func (o *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := o.complete(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	otel.RecordEngineCall(ctx, "openai", status, time.Since(start))
	return resp, err
}

func (o *OpenAI) complete(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: toOpenAIMessages(req),
		Tools:    toOpenAITools(req.Tools),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &ProviderError{StatusCode: apiErr.StatusCode, Type: apiErr.Type, Message: apiErr.Message}
		}
		return nil, fmt.Errorf("engine/openai: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("engine/openai: response has no choices")
	}
	choice := completion.Choices[0]
	resp := &Response{
		StopReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}
	if choice.Message.Content != "" {
		resp.Content = append(resp.Content, TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			// Leave it to action decoding to report; keep the raw text.
			encoded, _ := json.Marshal(tc.Function.Arguments)
			args = encoded
		}
		resp.Content = append(resp.Content, ToolUseBlock(tc.ID, tc.Function.Name, args))
	}
	return resp, nil
}

func toOpenAITools(tools []Tool) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.InputSchema),
		}))
	}
	return out
}

// toOpenAIMessages flattens the transcript. A user turn holding tool results
// becomes one tool message per result; image results are followed by a user
// message carrying the images, since tool messages are text only.
func toOpenAIMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			out = append(out, assistantMessage(m))
		default:
			out = append(out, userMessages(m)...)
		}
	}
	return out
}

func assistantMessage(m Message) openai.ChatCompletionMessageParamUnion {
	var text string
	var calls []openai.ChatCompletionMessageToolCallUnionParam
	for _, b := range m.Content {
		switch b.Type {
		case BlockText:
			if text != "" {
				text += "\n"
			}
			text += b.Text
		case BlockToolUse:
			args := string(b.Input)
			if args == "" {
				args = "{}"
			}
			calls = append(calls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: b.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      b.Name,
						Arguments: args,
					},
				},
			})
		}
	}
	msg := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
	if text != "" {
		msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &msg}
}

func userMessages(m Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	var text string
	var images []openai.ChatCompletionContentPartUnionParam
	for _, b := range m.Content {
		switch b.Type {
		case BlockText:
			if text != "" {
				text += "\n"
			}
			text += b.Text
		case BlockToolResult:
			content := b.Content
			if b.MediaType != "" {
				content = "screenshot captured; image follows"
				images = append(images,
					openai.TextContentPart("Screenshot from tool call "+b.ToolUseID+":"),
					openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
						URL: "data:" + b.MediaType + ";base64," + b.Content,
					}),
				)
			} else if b.IsError {
				content = "error: " + content
			}
			out = append(out, openai.ToolMessage(content, b.ToolUseID))
		}
	}
	if text != "" {
		out = append(out, openai.UserMessage(text))
	}
	if len(images) > 0 {
		out = append(out, openai.UserMessage(images))
	}
	return out
}
