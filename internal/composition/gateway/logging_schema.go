package gateway

import (
	"strings"
)

const gatewayComponentName = "gateway"

func (g *Gateway) logInfo(operation, correlationID, message string, attrs ...any) {
	base := []any{
		"component", gatewayComponentName,
		"operation", strings.TrimSpace(operation),
		"correlation_id", correlationOrNA(correlationID),
	}
	g.logger.Info(message, append(base, attrs...)...)
}

func (g *Gateway) logWarn(operation, correlationID, message string, attrs ...any) {
	base := []any{
		"component", gatewayComponentName,
		"operation", strings.TrimSpace(operation),
		"correlation_id", correlationOrNA(correlationID),
	}
	g.logger.Warn(message, append(base, attrs...)...)
}

func (g *Gateway) recordErrorWithContext(category string, err error, operation, correlationID string, attrs ...any) {
	if err == nil {
		return
	}
	g.metrics.errors.WithLabelValues(category).Inc()
	base := []any{
		"component", gatewayComponentName,
		"operation", strings.TrimSpace(operation),
		"category", strings.TrimSpace(category),
		"correlation_id", correlationOrNA(correlationID),
		"error", err.Error(),
	}
	g.logger.Error("gateway error", append(base, attrs...)...)
}

func correlationOrNA(id string) string {
	if trimmed := strings.TrimSpace(id); trimmed != "" {
		return trimmed
	}
	return "n/a"
}
