package logger

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/enrollease/enrollease-api/pkg/config"
	"github.com/enrollease/enrollease-api/pkg/middleware/requestid"
)

func New(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Env == config.EnvProduction {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Log.Format {
	case "console":
		zapCfg.Encoding = "console"
	default:
		zapCfg.Encoding = "json"
	}

	if cfg.Log.Level != "" {
		if err := zapCfg.Level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}
	}

	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.InitialFields = map[string]interface{}{"app": cfg.AppName}

	return zapCfg.Build()
}

// Context keys the auth middleware fills so access logs can name the caller.
const (
	RoleKey    = "log_role"
	SubjectKey = "log_subject"
)

// quietRoutes are health and scrape endpoints logged at debug level.
var quietRoutes = map[string]struct{}{
	"/health":  {},
	"/ready":   {},
	"/metrics": {},
}

// GinMiddleware logs one line per request. Progress streams log once when the client goes away,
// with the stream's lifetime instead of a latency.
func GinMiddleware(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		route := c.FullPath()
		status := c.Writer.Status()
		streaming := strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/event-stream")

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.String("ip", c.ClientIP()),
		}
		if streaming {
			fields = append(fields, zap.Duration("stream_duration", elapsed))
		} else {
			fields = append(fields, zap.Duration("latency", elapsed))
		}
		if reqID := requestid.Value(c); reqID != "" {
			fields = append(fields, zap.String("request_id", reqID))
		}
		if role := c.GetString(RoleKey); role != "" {
			fields = append(fields, zap.String("role", role), zap.String("subject", c.GetString(SubjectKey)))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		msg := "http_request"
		if streaming {
			msg = "http_stream_closed"
		}
		switch {
		case status >= 500:
			l.Error(msg, fields...)
		case status >= 400:
			l.Warn(msg, fields...)
		default:
			if _, quiet := quietRoutes[route]; quiet {
				l.Debug(msg, fields...)
				return
			}
			l.Info(msg, fields...)
		}
	}
}
