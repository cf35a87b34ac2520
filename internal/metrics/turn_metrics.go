package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("dealerchat")

// TurnMetrics counts chat turns, tool calls and feed fetches. A nil
// *TurnMetrics records nothing.
type TurnMetrics struct {
	turnsCounter       metric.Int64Counter
	toolCallsCounter   metric.Int64Counter
	feedFetchesCounter metric.Int64Counter
	turnDuration       metric.Float64Histogram
}

func NewTurnMetrics() (*TurnMetrics, error) {
	turns, err := meter.Int64Counter(
		"dealerchat.turns",
		metric.WithDescription("Chat turns handled, by outcome"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		return nil, err
	}

	toolCalls, err := meter.Int64Counter(
		"dealerchat.tool_calls",
		metric.WithDescription("Tool invocations dispatched from assistant runs"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	fetches, err := meter.Int64Counter(
		"dealerchat.feed.fetches",
		metric.WithDescription("Upstream catalog feed fetches, by result"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"dealerchat.turn.duration",
		metric.WithDescription("Wall time of a chat turn in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &TurnMetrics{
		turnsCounter:       turns,
		toolCallsCounter:   toolCalls,
		feedFetchesCounter: fetches,
		turnDuration:       duration,
	}, nil
}

func (m *TurnMetrics) RecordTurn(ctx context.Context, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.turnsCounter.Add(ctx, 1, attrs)
	m.turnDuration.Record(ctx, took.Seconds(), attrs)
}

func (m *TurnMetrics) RecordToolCall(ctx context.Context, name string) {
	if m == nil {
		return
	}
	m.toolCallsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("function", name)))
}

// RecordFeedFetch matches the feed.Fetcher OnFetch hook signature.
func (m *TurnMetrics) RecordFeedFetch(ctx context.Context, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.feedFetchesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
