package chat

import "github.com/sentialytic/reapears/pkg/metrics"

// Metrics are the optional instruments of sessions and the processor.
type Metrics struct {
	ActiveSessions *metrics.Gauge
	Commands       *metrics.CounterVec
	ProtocolErrors *metrics.Counter
	Skipped        *metrics.Counter
}

func NewMetrics(r *metrics.Registry) Metrics {
	return Metrics{
		ActiveSessions: r.Gauge("chat_sessions_active", "Chat sessions currently open."),
		Commands:       r.CounterVec("chat_commands_total", "Commands received, by type.", "type"),
		ProtocolErrors: r.Counter("chat_protocol_errors_total", "Inbound frames that could not be decoded."),
		Skipped:        r.Counter("chat_session_envelopes_skipped_total", "Envelopes sessions missed because they fell behind."),
	}
}
