package agent

import "time"

// AgentOptions holds the full set of toggles and knobs the background scan
// loop and the orchestrator it drives consult. Construction happens in
// cmd/, bound from viper/cobra flags.
type AgentOptions struct {
	// HTTP2TracingEnabled gates the Go-HTTP/2 family entirely.
	HTTP2TracingEnabled bool
	// SelfProbingDisabled skips the agent's own process during every pass.
	SelfProbingDisabled bool
	// RescanForDlopen enables the mmap-event-driven second OpenSSL pass for
	// late dlopen()s.
	RescanForDlopen bool
	// ScanInterval is the background loop's tick period.
	ScanInterval time.Duration
	// ASID is this host's agent-scoped identifier, the first coordinate of
	// every UPID this agent constructs.
	ASID uint32
}

// DefaultAgentOptions sets sensible defaults: all tracing on,
// self-probing exempted, rescanning enabled, a 2-second poll period.
func DefaultAgentOptions() AgentOptions {
	return AgentOptions{
		HTTP2TracingEnabled: true,
		SelfProbingDisabled: true,
		RescanForDlopen:     true,
		ScanInterval:        2 * time.Second,
	}
}
