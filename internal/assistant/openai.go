package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIGateway talks to the Assistants API (threads, runs, tool outputs).
// Knowledge retrieval is enabled on every run through the file_search tool; the
// vector store itself is attached to the assistant out of band.
type OpenAIGateway struct {
	client      openai.Client
	assistantID string
}

func NewOpenAIGateway(apiKey, assistantID string, opts ...option.RequestOption) *OpenAIGateway {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIGateway{client: openai.NewClient(opts...), assistantID: assistantID}
}

func (g *OpenAIGateway) CreateThread(ctx context.Context) (string, error) {
	thread, err := g.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", classify(err))
	}
	return thread.ID, nil
}

func (g *OpenAIGateway) AddUserMessage(ctx context.Context, threadID, content string) error {
	_, err := g.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role:    openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{OfString: openai.String(content)},
	})
	if err != nil {
		return fmt.Errorf("add message: %w", classify(err))
	}
	return nil
}

func (g *OpenAIGateway) StartRun(ctx context.Context, threadID string, tools []ToolSpec) (Run, error) {
	params := openai.BetaThreadRunNewParams{
		AssistantID: g.assistantID,
		Tools: []openai.AssistantToolUnionParam{
			{OfFileSearch: &openai.FileSearchToolParam{}},
		},
	}
	for _, t := range tools {
		params.Tools = append(params.Tools, openai.AssistantToolUnionParam{
			OfFunction: &openai.FunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  openai.FunctionParameters(t.Parameters),
				},
			},
		})
	}

	run, err := g.client.Beta.Threads.Runs.New(ctx, threadID, params)
	if err != nil {
		return Run{}, fmt.Errorf("start run: %w", classify(err))
	}
	return toRun(run), nil
}

func (g *OpenAIGateway) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	run, err := g.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", classify(err))
	}
	return toRun(run), nil
}

func (g *OpenAIGateway) SubmitToolOutputs(ctx context.Context, threadID, runID string, results []ToolResult) error {
	outputs := make([]openai.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(results))
	for _, r := range results {
		outputs = append(outputs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openai.String(r.InvocationID),
			Output:     openai.String(r.Output),
		})
	}
	_, err := g.client.Beta.Threads.Runs.SubmitToolOutputs(ctx, threadID, runID, openai.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: outputs,
	})
	if err != nil {
		return fmt.Errorf("submit tool outputs: %w", classify(err))
	}
	return nil
}

func (g *OpenAIGateway) LatestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	page, err := g.client.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
		Limit: openai.Int(5),
	})
	if err != nil {
		return "", fmt.Errorf("list messages: %w", classify(err))
	}
	for _, m := range page.Data {
		if m.Role != openai.MessageRoleAssistant {
			continue
		}
		for _, c := range m.Content {
			if c.Type == "text" && c.Text.Value != "" {
				return c.Text.Value, nil
			}
		}
	}
	return "", errors.New("no assistant message in thread")
}

func toRun(r *openai.Run) Run {
	out := Run{
		ID:          r.ID,
		ThreadID:    r.ThreadID,
		Status:      RunStatus(r.Status),
		FailureCode: string(r.LastError.Code),
		FailureText: r.LastError.Message,
	}
	if out.Status == StatusRequiresAction {
		for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolInvocation{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	return out
}

// classify maps a 400 (thread has an active run) and 429 onto ErrThreadBusy.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrThreadBusy, err)
		}
	}
	return err
}
