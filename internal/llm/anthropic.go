package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"docstream/internal/config"
	"docstream/internal/observability"
)

const defaultMaxTokens int64 = 2048

// AnthropicClient implements Provider over the Anthropic SDK.
type AnthropicClient struct {
	sdk   anthropic.Client
	model string
}

// NewAnthropic creates a client for the given model. httpClient may be nil.
func NewAnthropic(cfg config.AnthropicConfig, model string, httpClient *http.Client) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	return &AnthropicClient{sdk: anthropic.NewClient(opts...), model: model}
}

// Chat executes one blocking model turn.
func (c *AnthropicClient) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, maxTokens int64) (Message, error) {
	sys, converted, err := adaptMessages(msgs)
	if err != nil {
		return Message{}, err
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  converted,
		System:    sys,
		Tools:     adaptTools(tools),
		MaxTokens: maxTokens,
	}

	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	resp, err := c.sdk.Messages.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", c.model).Dur("duration", dur).Msg("anthropic_chat_error")
		return Message{}, err
	}

	out := messageFromResponse(resp)
	log.Debug().
		Str("model", c.model).
		Dur("duration", dur).
		Int("input_tokens", int(resp.Usage.InputTokens)).
		Int("output_tokens", int(resp.Usage.OutputTokens)).
		Msg("anthropic_chat_ok")
	return out, nil
}

func adaptTools(tools []ToolSchema) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Type: constant.ValueOf[constant.Object](),
		}
		if props, ok := t.Parameters["properties"]; ok {
			schema.Properties = props
		}
		if req, ok := t.Parameters["required"].([]string); ok {
			schema.Required = req
		}
		param := anthropic.ToolParam{
			Name:        t.Name,
			InputSchema: schema,
		}
		if t.Description != "" {
			param.Description = anthropic.String(t.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func adaptMessages(msgs []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	if len(msgs) == 0 {
		return nil, nil, fmt.Errorf("messages required")
	}
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(msgs))

	for _, m := range msgs {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "system":
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Content})
			}
		case "user":
			var blocks []anthropic.ContentBlockParamUnion
			if len(m.Image) > 0 {
				mediaType := m.ImageMediaType
				if mediaType == "" {
					mediaType = "image/png"
				}
				blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType,
					base64.StdEncoding.EncodeToString(m.Image)))
			}
			if strings.TrimSpace(m.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if strings.TrimSpace(m.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for i, tc := range m.ToolCalls {
				id := strings.TrimSpace(tc.ID)
				if id == "" {
					id = fmt.Sprintf("call-%d", i+1)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(id, decodeArgs(tc.Args), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolID, m.Content, false)))
		default:
			return nil, nil, fmt.Errorf("unsupported role: %s", m.Role)
		}
	}
	return system, out, nil
}

func decodeArgs(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	return map[string]any{}
}

func messageFromResponse(resp *anthropic.Message) Message {
	if resp == nil {
		return Message{}
	}
	var sb strings.Builder
	var calls []ToolCall
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(v.Text)
		case anthropic.ToolUseBlock:
			id := strings.TrimSpace(v.ID)
			if id == "" {
				id = fmt.Sprintf("call-%d", len(calls)+1)
			}
			calls = append(calls, ToolCall{ID: id, Name: v.Name, Args: v.Input})
		}
	}
	return Message{Role: "assistant", Content: sb.String(), ToolCalls: calls}
}

var _ Provider = (*AnthropicClient)(nil)
