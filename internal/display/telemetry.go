package display

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/danmuck/displayctl/internal/observability"
	"github.com/danmuck/displayctl/internal/protocol/session"
)

const tracerName = "github.com/danmuck/displayctl/internal/display"

func (c *Client) startSpan(ctx context.Context, cmd *session.PendingCommand) trace.Span {
	_, span := c.tracer.Start(ctx, "mdc.command",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("mdc.display", c.name),
			attribute.Int("mdc.command_id", int(cmd.CommandID)),
			attribute.String("mdc.request_id", cmd.ID),
			attribute.Int("mdc.payload_len", len(cmd.Payload)),
		),
	)
	return span
}

func (c *Client) finishCommand(cmd *session.PendingCommand, err error) {
	outcome := outcomeFor(err)
	observability.RecordCommand(c.name, outcome, time.Since(cmd.QueuedAt))

	span, ok := c.spans[cmd.ID]
	if !ok {
		return
	}
	delete(c.spans, cmd.ID)
	span.SetAttributes(
		attribute.Int("mdc.retries", retries(cmd)),
		attribute.String("mdc.outcome", outcome),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func retries(cmd *session.PendingCommand) int {
	if cmd.RetryCount <= 1 {
		return 0
	}
	return cmd.RetryCount - 1
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeOK
	case errors.Is(err, ErrCommandRejected):
		return observability.OutcomeRejected
	case errors.Is(err, ErrTimeout):
		return observability.OutcomeTimeout
	case errors.Is(err, ErrProtocolCorruption):
		return observability.OutcomeCorrupt
	case errors.Is(err, ErrClientClosed):
		return observability.OutcomeClosed
	case errors.Is(err, ErrQueueFull):
		return observability.OutcomeQueueFull
	default:
		return observability.OutcomeConnectionLost
	}
}
