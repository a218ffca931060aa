package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Governance-specific semantic convention attributes.
var (
	// Command attributes
	AttrApprovalID  = attribute.Key("assent.approval.id")
	AttrExecutionID = attribute.Key("assent.execution.id")
	AttrCommand     = attribute.Key("assent.command.opcode")
	AttrScope       = attribute.Key("assent.command.scope")

	// Transition attributes
	AttrFromState = attribute.Key("assent.transition.from")
	AttrToState   = attribute.Key("assent.transition.to")
	AttrActor     = attribute.Key("assent.transition.actor")

	// Session attributes
	AttrSessionID = attribute.Key("assent.session.id")
	AttrArmed     = attribute.Key("assent.session.armed")

	// Chat attributes
	AttrIntentKind = attribute.Key("assent.intent.kind")

	// Policy attributes
	AttrPolicyOutcome = attribute.Key("assent.policy.outcome")
)

// CommandTransition creates attributes for one state transition.
func CommandTransition(approvalID, from, to, actor string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrApprovalID.String(approvalID),
		AttrFromState.String(from),
		AttrToState.String(to),
		AttrActor.String(actor),
	}
}

// ChatTurn creates attributes for one classified chat message.
func ChatTurn(sessionID, intentKind string, armed bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSessionID.String(sessionID),
		AttrIntentKind.String(intentKind),
		AttrArmed.Bool(armed),
	}
}

// ExecutorCall creates attributes for one adapter invocation.
func ExecutorCall(approvalID, command, scope string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrApprovalID.String(approvalID),
		AttrCommand.String(command),
		AttrScope.String(scope),
	}
}

// PolicyDecision creates attributes for one guard evaluation.
func PolicyDecision(command, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCommand.String(command),
		AttrPolicyOutcome.String(outcome),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
