package models

// Run stop reasons.
const (
	StopCompleted   = "completed"
	StopFinished    = "finished"
	StopMaxSteps    = "max_steps"
	StopTimeout     = "timeout"
	StopEngineError = "engine_error"
	StopRejected    = "rejected"
	StopPanic       = "panic"
)

// Run event types.
const (
	EventRunStarted  = "run_started"
	EventStep        = "step"
	EventAction      = "action"
	EventRunFinished = "run_finished"
)

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultRunListLimit        = 100
	DefaultSSEChannelBuffer    = 256
	DefaultMaxSteps            = 10
	DefaultTimeoutSeconds      = 300
)
