package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"github.com/medsense-ai/medsense/internal/config"
	apperrors "github.com/medsense-ai/medsense/internal/errors"
	"github.com/medsense-ai/medsense/internal/models"
	"github.com/medsense-ai/medsense/internal/tools"
)

const urgencyPrompt = `You are a triage pre-screener. Reply with exactly one word:
URGENT if the message describes a situation needing immediate emergency care,
ROUTINE otherwise. Do not explain.`

type openaiAdapter struct {
	client      openaigo.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewOpenAIAdapter creates an adapter backed by an OpenAI-compatible chat
// completions endpoint.
func NewOpenAIAdapter(cfg config.LLMConfig) (Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "llm api key is required", nil)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(2),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}

	return &openaiAdapter{
		client:      openaigo.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (a *openaiAdapter) Name() string { return "openai" }

func (a *openaiAdapter) Step(ctx context.Context, req StepRequest) (*Decision, error) {
	params := openaigo.ChatCompletionNewParams{
		Model:               openaigo.ChatModel(a.model),
		Messages:            a.buildMessages(req),
		Temperature:         openaigo.Float(a.temperature),
		MaxCompletionTokens: openaigo.Int(int64(a.maxTokens)),
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeReasoningProvider, "chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeReasoningProvider, "empty choices in completion", nil)
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) == 0 {
		return &Decision{Kind: DecisionFinal, Content: msg.Content}, nil
	}

	calls := make([]models.ToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		if strings.TrimSpace(tc.Type) != "function" {
			continue
		}
		call := tc.AsFunction()
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return nil, apperrors.New(apperrors.ErrCodeReasoningProvider,
				fmt.Sprintf("unparseable arguments for tool %s", call.Function.Name), err)
		}
		if args == nil {
			args = map[string]interface{}{}
		}
		calls = append(calls, models.ToolCall{ID: tc.ID, Name: call.Function.Name, Arguments: args})
	}
	if len(calls) == 0 {
		return &Decision{Kind: DecisionFinal, Content: msg.Content}, nil
	}
	return &Decision{Kind: DecisionToolCalls, Content: msg.Content, ToolCalls: calls}, nil
}

func (a *openaiAdapter) Summarize(ctx context.Context, req StepRequest) (string, error) {
	messages := a.buildMessages(req)
	messages = append(messages, openaigo.UserMessage(
		"Summarize what you have found so far into a single short answer for the user. Do not request any more tools."))

	resp, err := a.client.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Model:               openaigo.ChatModel(a.model),
		Messages:            messages,
		Temperature:         openaigo.Float(a.temperature),
		MaxCompletionTokens: openaigo.Int(int64(a.maxTokens)),
	})
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeReasoningProvider, "summary completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.New(apperrors.ErrCodeReasoningProvider, "empty choices in summary", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// CheckUrgent implements the classifier's optional reasoning assist with a
// narrow prompt and no tools.
func (a *openaiAdapter) CheckUrgent(ctx context.Context, text string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := a.client.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Model: openaigo.ChatModel(a.model),
		Messages: []openaigo.ChatCompletionMessageParamUnion{
			openaigo.SystemMessage(urgencyPrompt),
			openaigo.UserMessage(text),
		},
		Temperature:         openaigo.Float(0),
		MaxCompletionTokens: openaigo.Int(4),
	})
	if err != nil {
		return false, err
	}
	if len(resp.Choices) == 0 {
		return false, fmt.Errorf("empty choices")
	}
	verdict := strings.ToUpper(strings.TrimSpace(resp.Choices[0].Message.Content))
	return strings.HasPrefix(verdict, "URGENT"), nil
}

func (a *openaiAdapter) buildMessages(req StepRequest) []openaigo.ChatCompletionMessageParamUnion {
	messages := make([]openaigo.ChatCompletionMessageParamUnion, 0, len(req.Window)+1)
	if req.System != "" {
		messages = append(messages, openaigo.SystemMessage(req.System))
	}
	for _, turn := range req.Window {
		switch turn.Role {
		case models.RoleUser:
			messages = append(messages, openaigo.UserMessage(turn.Content))
		case models.RoleAssistant:
			messages = append(messages, assistantTurn(turn))
		case models.RoleTool:
			messages = append(messages, openaigo.ToolMessage(turn.Content, turn.ToolCallID))
		}
	}
	return messages
}

func assistantTurn(turn models.ConversationTurn) openaigo.ChatCompletionMessageParamUnion {
	if len(turn.ToolCalls) == 0 {
		return openaigo.AssistantMessage(turn.Content)
	}
	calls := make([]openaigo.ChatCompletionMessageToolCallUnionParam, 0, len(turn.ToolCalls))
	for _, tc := range turn.ToolCalls {
		args, _ := json.Marshal(tc.Arguments)
		calls = append(calls, openaigo.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openaigo.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openaigo.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: string(args),
				},
			},
		})
	}
	asst := openaigo.ChatCompletionAssistantMessageParam{ToolCalls: calls}
	if turn.Content != "" {
		asst.Content.OfString = param.NewOpt(turn.Content)
	}
	return openaigo.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

func buildTools(specs []tools.Spec) []openaigo.ChatCompletionToolUnionParam {
	out := make([]openaigo.ChatCompletionToolUnionParam, 0, len(specs))
	for _, s := range specs {
		out = append(out, openaigo.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        s.Name,
			Description: param.NewOpt(s.Description),
			Parameters:  shared.FunctionParameters(s.Parameters),
		}))
	}
	return out
}
