package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-chat-api/internal/observability"
)

const tracerName = "github.com/noah-isme/gema-chat-api/internal/middleware"

// Observability records metrics, a server span and one access log line for every
// request under /api/. Probes and the scrape endpoint are left alone.
func Observability(logger zerolog.Logger) fiber.Handler {
	observability.RegisterMetrics()
	tracer := otel.Tracer(tracerName)

	return func(c *fiber.Ctx) error {
		if !strings.HasPrefix(c.Path(), "/api/") {
			return c.Next()
		}

		start := time.Now()
		ctx, span := tracer.Start(c.UserContext(), c.Method()+" "+c.Path(), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		c.SetUserContext(ctx)

		err := c.Next()
		elapsed := time.Since(start)

		// Fiber has not run the error handler yet, so derive the status it will write.
		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}

		route := routeTemplate(c)
		method := c.Method()
		code := strconv.Itoa(status)

		observability.HTTPRequests().WithLabelValues(method, route, code).Inc()
		observability.HTTPLatency().WithLabelValues(method, route).Observe(elapsed.Seconds())
		if status >= fiber.StatusBadRequest {
			observability.HTTPErrors().WithLabelValues(method, route, code).Inc()
		}

		span.SetName(method + " " + route)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.String("correlation_id", GetCorrelationID(c)),
		)
		if status >= fiber.StatusInternalServerError {
			span.SetStatus(codes.Error, code)
		}

		var event *zerolog.Event
		switch {
		case status >= fiber.StatusInternalServerError:
			event = logger.Error().Err(err)
		case status >= fiber.StatusBadRequest:
			event = logger.Warn()
		default:
			event = logger.Debug()
		}
		userID, _ := c.Locals("user_id").(string)
		event.
			Str("correlation_id", GetCorrelationID(c)).
			Str("method", method).
			Str("route", route).
			Str("user_id", userID).
			Int("status", status).
			Dur("latency", elapsed).
			Bool("slow", elapsed > 250*time.Millisecond).
			Msg("request handled")

		return err
	}
}

func routeTemplate(c *fiber.Ctx) string {
	if r := c.Route(); r != nil && r.Path != "" {
		return r.Path
	}
	return c.Path()
}
