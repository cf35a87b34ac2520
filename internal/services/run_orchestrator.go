package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dealerchat/internal/assistant"
	"dealerchat/internal/domain"
	applog "dealerchat/internal/log"
	"dealerchat/internal/metrics"
)

const InventoryToolName = "get_available_cars"

const (
	DefaultPollInterval = time.Second
	DefaultMaxPolls     = 30
)

// Inventory answers the inventory tool.
type Inventory interface {
	QueryTopOffers(ctx context.Context, modelFilter string) domain.QueryResult
}

// RunOrchestrator drives one assistant run from start to a terminal status,
// answering tool calls on the way.
type RunOrchestrator struct {
	Gateway      assistant.Gateway
	Inventory    Inventory
	Metrics      *metrics.TurnMetrics
	PollInterval time.Duration
	MaxPolls     int

	// Sleep waits between polls; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewRunOrchestrator(gw assistant.Gateway, inv Inventory) *RunOrchestrator {
	return &RunOrchestrator{
		Gateway:      gw,
		Inventory:    inv,
		PollInterval: DefaultPollInterval,
		MaxPolls:     DefaultMaxPolls,
		Sleep:        sleepCtx,
	}
}

// Reply is the text and optional listings a completed run produced.
type Reply struct {
	Text     string
	Listings []domain.Listing
	Polls    int
}

// inventoryArgs is the typed form of the tool's JSON arguments.
type inventoryArgs struct {
	ModelFilter *string `json:"model_filter"`
}

// Tools is the function set declared on every run.
func Tools() []assistant.ToolSpec {
	return []assistant.ToolSpec{{
		Name:        InventoryToolName,
		Description: "Връща най-евтините налични автомобили от текущата наличност, по избор филтрирани по модел.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"model_filter": map[string]any{
					"type":        "string",
					"description": "Част от името на модела, напр. \"208\" или \"3008\". Празно за всички модели.",
				},
			},
		},
	}}
}

// Run appends message to the thread, starts a run and polls it until it
// completes, fails, stops, or MaxPolls is exhausted. Failures are *TurnError.
func (o *RunOrchestrator) Run(ctx context.Context, threadID, message string) (Reply, error) {
	if err := o.Gateway.AddUserMessage(ctx, threadID, message); err != nil {
		return Reply{}, classifyGatewayErr(err)
	}
	run, err := o.Gateway.StartRun(ctx, threadID, Tools())
	if err != nil {
		return Reply{}, classifyGatewayErr(err)
	}
	applog.Info(nil, "run.started", map[string]any{"thread_id": threadID, "run_id": run.ID, "status": string(run.Status)})

	var toolResult *domain.QueryResult
	handled := map[string]bool{}
	polls := 0

	for run.Status.Active() && polls < o.maxPolls() {
		polls++
		run, err = o.Gateway.GetRun(ctx, threadID, run.ID)
		if err != nil {
			return Reply{}, classifyGatewayErr(err)
		}

		if run.Status == assistant.StatusRequiresAction {
			results := o.dispatch(ctx, run.ToolCalls, handled, &toolResult)
			if len(results) > 0 {
				if err := o.Gateway.SubmitToolOutputs(ctx, threadID, run.ID, results); err != nil {
					// the run may stay parked; the ceiling still bounds the loop
					applog.Warn(nil, "run.submit.error", err, map[string]any{"thread_id": threadID, "run_id": run.ID})
				}
			}
		}

		if !run.Status.Active() {
			break
		}
		if err := o.Sleep(ctx, o.PollInterval); err != nil {
			return Reply{}, internal(err)
		}
	}

	fields := map[string]any{"thread_id": threadID, "run_id": run.ID, "status": string(run.Status), "polls": polls}
	switch {
	case run.Status == assistant.StatusCompleted:
		applog.Info(nil, "run.completed", fields)
		if toolResult != nil {
			return Reply{Text: toolResult.Summary, Listings: toolResult.Listings, Polls: polls}, nil
		}
		text, err := o.Gateway.LatestAssistantMessage(ctx, threadID)
		if err != nil {
			return Reply{}, internal(err)
		}
		return Reply{Text: text, Polls: polls}, nil

	case run.Status == assistant.StatusFailed:
		applog.Warn(nil, "run.failed", errors.New(run.FailureText), fields)
		return Reply{}, runFailed(failureReason(run))

	case run.Status.Active():
		applog.Warn(nil, "run.stalled", nil, fields)
		return Reply{}, runStalled(string(run.Status))

	default:
		applog.Warn(nil, "run.stopped", nil, fields)
		return Reply{}, runStopped(string(run.Status))
	}
}

// dispatch answers every invocation not already handled in this turn.
func (o *RunOrchestrator) dispatch(ctx context.Context, calls []assistant.ToolInvocation, handled map[string]bool, last **domain.QueryResult) []assistant.ToolResult {
	var results []assistant.ToolResult
	for _, call := range calls {
		if handled[call.ID] {
			continue
		}
		handled[call.ID] = true
		o.Metrics.RecordToolCall(ctx, call.Name)
		results = append(results, assistant.ToolResult{
			InvocationID: call.ID,
			Output:       o.invoke(ctx, call, last),
		})
	}
	return results
}

// invoke runs a single call. A panic still yields an acknowledgement so the
// remote run is not left waiting on this call.
func (o *RunOrchestrator) invoke(ctx context.Context, call assistant.ToolInvocation, last **domain.QueryResult) (out string) {
	defer func() {
		if r := recover(); r != nil {
			applog.Error(nil, "tool.panic", fmt.Errorf("%v", r), map[string]any{"function": call.Name, "call_id": call.ID})
			out = "Function failed."
		}
	}()

	if call.Name != InventoryToolName {
		applog.Warn(nil, "tool.unknown", nil, map[string]any{"function": call.Name, "call_id": call.ID})
		return fmt.Sprintf("Unknown function %q.", call.Name)
	}

	res := o.Inventory.QueryTopOffers(ctx, decodeFilter(call.Arguments))
	*last = &res
	return fmt.Sprintf("Function executed. Found %d cars.", len(res.Listings))
}

// decodeFilter treats malformed or missing arguments as "no filter".
func decodeFilter(raw string) string {
	if raw == "" {
		return ""
	}
	var args inventoryArgs
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		applog.Warn(nil, "tool.args.invalid", err, map[string]any{"raw": raw})
		return ""
	}
	if args.ModelFilter == nil {
		return ""
	}
	return *args.ModelFilter
}

func failureReason(run assistant.Run) string {
	switch {
	case run.FailureText != "":
		return run.FailureText
	case run.FailureCode != "":
		return run.FailureCode
	}
	return string(run.Status)
}

func classifyGatewayErr(err error) *TurnError {
	if errors.Is(err, assistant.ErrThreadBusy) {
		return rateLimited(err)
	}
	return internal(err)
}

func (o *RunOrchestrator) maxPolls() int {
	if o.MaxPolls <= 0 {
		return DefaultMaxPolls
	}
	return o.MaxPolls
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
