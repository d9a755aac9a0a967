// Package audit records mutations as structured log lines.
package audit

import (
	"context"
	"errors"
	"maps"
	"strings"

	"github.com/sirupsen/logrus"

	"lexintake.org/internal/auth"
	"lexintake.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request identifier attached by WithRequestID.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with the request id and the acting
// principal found in ctx.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	data := logrus.Fields{
		"type":  "audit",
		"event": event,
	}
	if rid := RequestID(ctx); rid != "" {
		data["request_id"] = rid
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		data["identity_id"] = p.Identity.ID
		if p.Profile != nil {
			data["profile_id"] = p.Profile.ID
			data["role"] = string(p.Profile.Role)
			if p.Profile.FirmID != "" {
				data["firm_id"] = p.Profile.FirmID
			}
		}
	}
	copied := make(map[string]any, len(fields))
	maps.Copy(copied, fields)
	data["fields"] = copied

	obs.Component("audit").WithFields(data).Info(event)
	return nil
}
