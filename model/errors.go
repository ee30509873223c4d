package model

import "errors"

var (
	ErrNoPositionFix        = errors.New("no valid position fix")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInsufficientBuffer   = errors.New("insufficient buffer")
	ErrEncoding             = errors.New("telemetry encoding error")
	ErrDeliveryExhausted    = errors.New("telemetry delivery attempts exhausted")
	ErrAttachTimeout        = errors.New("attach timed out")
	ErrConfigurationFailure = errors.New("radio configuration failed")
	ErrRemediationExhausted = errors.New("remediation exhausted")

	// ErrWatchdogUnavailable is the only fatal condition; everything else is
	// routed through the state machine.
	ErrWatchdogUnavailable = errors.New("watchdog unavailable")
)
