// Package audit emits structured audit events for security-relevant
// actions: logins, factor changes, binding changes, revocations.
package audit

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var auditLogger = log.Output(os.Stdout).With().Str("stream", "audit").Logger()

// Log records an audit event. user is the acting user id when known,
// target the affected resource.
func Log(service, action, user, target, details string, success bool, err error) {
	var ev *zerolog.Event
	if success {
		ev = auditLogger.Info()
	} else {
		ev = auditLogger.Warn()
	}
	ev.Time("at", time.Now().UTC()).
		Str("service", service).
		Str("action", action).
		Bool("success", success)
	if user != "" {
		ev = ev.Str("user", user)
	}
	if target != "" {
		ev = ev.Str("target", target)
	}
	if details != "" {
		ev = ev.Str("details", details)
	}
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("audit")
}
