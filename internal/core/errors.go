// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers wrap them with context and match with errors.Is.
var (
	// Record decoding errors (record scoped, never fatal)
	ErrMalformed = errors.New("netbeep: malformed record")

	// Capture channel errors (terminate one worker)
	ErrChannelFailure = errors.New("netbeep: capture channel failure")

	// Startup errors (fatal)
	ErrAttachment = errors.New("netbeep: capture attachment failed")

	// Audio sink errors (segment scoped)
	ErrSinkFailure = errors.New("netbeep: audio sink failure")

	// Configuration errors
	ErrConfigInvalid = errors.New("netbeep: invalid configuration")
)
