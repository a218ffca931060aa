package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "assent", config.ServiceName)
	require.Equal(t, "1.0.0", config.ServiceVersion)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
}

func TestNewProviderWithNilConfig(t *testing.T) {
	// DefaultConfig is disabled, so nil must not reach for the network.
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestTrackOperation(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, finish := p.TrackOperation(context.Background(), "approve",
		attribute.String("assent.approval.id", "ap-1"),
	)
	require.NotNil(t, ctx)

	time.Sleep(1 * time.Millisecond)
	finish(nil)
}

func TestTrackOperationWithError(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	_, finish := p.TrackOperation(context.Background(), "execute")
	finish(errors.New("bridge timeout"))
}

func TestRecordMetrics(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()

	// All no-ops when disabled; none may panic.
	p.RecordRequest(ctx, attribute.String("test", "value"))
	p.RecordError(ctx, errors.New("test"), attribute.String("test", "value"))
	p.RecordDuration(ctx, 100*time.Millisecond, attribute.String("test", "value"))
}

func TestStartSpan(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "test.span")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}

func TestShutdown(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, p.Shutdown(ctx))
}

func TestHTTPHandler(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	handler := p.HTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/execute/raw", nil))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, `{"ok":true}`, rec.Body.String())
}

func TestHTTPHandlerRecordsServerErrors(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	handler := p.HTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCommandTransition(t *testing.T) {
	attrs := CommandTransition("ap-1", "BLOCKED", "APPROVED", "operator-7")
	require.Len(t, attrs, 4)
	require.Equal(t, "assent.approval.id", string(attrs[0].Key))
	require.Equal(t, "ap-1", attrs[0].Value.AsString())
	require.Equal(t, "APPROVED", attrs[2].Value.AsString())
}

func TestChatTurn(t *testing.T) {
	attrs := ChatTurn("sess-1", "create_task", true)
	require.Len(t, attrs, 3)
	require.Equal(t, "assent.intent.kind", string(attrs[1].Key))
	require.Equal(t, true, attrs[2].Value.AsBool())
}

func TestExecutorCall(t *testing.T) {
	attrs := ExecutorCall("ap-1", "notion.create_task", "api_execute_raw")
	require.Len(t, attrs, 3)
	require.Equal(t, "assent.command.opcode", string(attrs[1].Key))
	require.Equal(t, "notion.create_task", attrs[1].Value.AsString())
}

func TestPolicyDecision(t *testing.T) {
	attrs := PolicyDecision("notion.create_page", "deny")
	require.Len(t, attrs, 2)
	require.Equal(t, "assent.policy.outcome", string(attrs[1].Key))
	require.Equal(t, "deny", attrs[1].Value.AsString())
}

func TestSpanFromContext(t *testing.T) {
	span := SpanFromContext(context.Background())
	require.NotNil(t, span)
}

func TestAddSpanEvent(t *testing.T) {
	AddSpanEvent(context.Background(), "gate.armed", attribute.String("session", "sess-1"))
}

func TestSetSpanStatus(t *testing.T) {
	SetSpanStatus(context.Background(), errors.New("test error"))
	SetSpanStatus(context.Background(), nil)
}
