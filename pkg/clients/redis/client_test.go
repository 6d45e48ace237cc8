package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

// ===========================================================================
// Mock Implementation
// ===========================================================================

type mockCmdable struct {
	mock.Mock
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.StringCmd)
}

func (m *mockCmdable) Ping(ctx context.Context) *redis.StatusCmd {
	args := m.Called(ctx)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *mockCmdable) Close() error {
	return m.Called().Error(0)
}

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return recorder
}

// ===========================================================================
// Set / Get
// ===========================================================================

func TestClient_Set(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Set", mock.Anything, "jwks:dialogue", "{}", time.Hour).Return(redis.NewStatusResult("OK", nil))

	require.NoError(t, NewFromClient(m, nil).Set(context.Background(), "jwks:dialogue", "{}", time.Hour))
	m.AssertExpectations(t)
}

func TestClient_Set_Timeout(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Set", mock.Anything, "k", "v", time.Duration(0)).Return(redis.NewStatusResult("", context.DeadlineExceeded))

	err := NewFromClient(m, nil).Set(context.Background(), "k", "v", 0)
	assert.True(t, sserr.HasCode(err, sserr.CodeTimeoutDatabase))
	assert.True(t, sserr.IsRetryable(err))
}

func TestClient_Get(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Get", mock.Anything, "k").Return(redis.NewStringResult(`{"keys":[]}`, nil))

	val, err := NewFromClient(m, nil).Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, `{"keys":[]}`, val)
}

func TestClient_Get_Missing(t *testing.T) {
	recorder := recordSpans(t)
	m := &mockCmdable{}
	m.On("Get", mock.Anything, "absent").Return(redis.NewStringResult("", redis.Nil))

	_, err := NewFromClient(m, nil).Get(context.Background(), "absent")
	require.Error(t, err)
	assert.True(t, sserr.IsNotFound(err))
	assert.True(t, errors.Is(err, redis.Nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, otelcodes.Ok, spans[0].Status().Code, "a miss is not a span error")
}

func TestClient_Get_Failure(t *testing.T) {
	recorder := recordSpans(t)
	m := &mockCmdable{}
	m.On("Get", mock.Anything, "k").Return(redis.NewStringResult("", errors.New("READONLY")))

	_, err := NewFromClient(m, &Config{DB: 2}).Get(context.Background(), "k")
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalDatabase))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "redis.Get", spans[0].Name())
	assert.Equal(t, otelcodes.Error, spans[0].Status().Code)
}

// ===========================================================================
// Health / Close
// ===========================================================================

func TestClient_Health(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Ping", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	})).Return(redis.NewStatusResult("PONG", nil)).Once()
	m.On("Ping", mock.Anything).Return(redis.NewStatusResult("", errors.New("refused"))).Once()

	c := NewFromClient(m, nil)
	require.NoError(t, c.Health(context.Background()))
	assert.True(t, sserr.HasCode(c.Health(context.Background()), sserr.CodeUnavailableDependency))
}

func TestClient_Close(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Close").Return(nil)
	require.NoError(t, NewFromClient(m, nil).Close())
	m.AssertExpectations(t)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := NewClient(context.Background(), Config{URI: "http://localhost:6379"})
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeValidation))
}
