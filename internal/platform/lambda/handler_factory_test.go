package lambda

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapterlogger "guild-access/internal/adapters/logger"
)

func TestNewLambdaHandler_ProxiesToEcho(t *testing.T) {
	e := echo.New()
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	handler := NewLambdaHandler(e, adapterlogger.NewWithWriter(io.Discard, slog.LevelInfo))

	resp, err := handler(context.Background(), events.APIGatewayV2HTTPRequest{
		Version:  "2.0",
		RouteKey: "GET /healthz",
		RawPath:  "/healthz",
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			RequestID: "req-1",
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{
				Method: http.MethodGet,
				Path:   "/healthz",
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Body, `"status":"ok"`)
}
