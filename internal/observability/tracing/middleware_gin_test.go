package tracing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/fakturo/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracedEngine(t *testing.T) (*gin.Engine, *tracetest.SpanRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	engine := gin.New()
	engine.Use(GinMiddleware())
	engine.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/api/invoices/:id", func(c *gin.Context) {
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), "customer", "42"))
		c.Status(http.StatusOK)
	})
	engine.POST("/api/invoices/:id/publish", func(c *gin.Context) {
		_ = c.AbortWithError(http.StatusInternalServerError, errors.New("storage down"))
	})
	return engine, recorder
}

func serve(engine *gin.Engine, method, path string) {
	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(method, path, nil))
}

func TestGinMiddlewareSkipsProbes(t *testing.T) {
	engine, recorder := newTracedEngine(t)
	serve(engine, http.MethodGet, "/health")
	assert.Empty(t, recorder.Ended())
}

func TestGinMiddlewareRecordsRouteAndActor(t *testing.T) {
	engine, recorder := newTracedEngine(t)
	serve(engine, http.MethodGet, "/api/invoices/7")

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "HTTP GET /api/invoices/:id", span.Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "/api/invoices/:id", attrs["http.route"].AsString())
	assert.Equal(t, int64(http.StatusOK), attrs["http.status_code"].AsInt64())
	assert.Equal(t, "customer", attrs["fakturo.actor.role"].AsString())
	assert.Equal(t, "42", attrs["fakturo.actor.id"].AsString())
	assert.Equal(t, codes.Unset, span.Status().Code)
}

func TestGinMiddlewareMarksServerErrors(t *testing.T) {
	engine, recorder := newTracedEngine(t)
	serve(engine, http.MethodPost, "/api/invoices/7/publish")

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}
