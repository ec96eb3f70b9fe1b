package models

import "errors"

// Common validation errors for models.
var (
	// ErrSourceRequired indicates a required source locator is empty.
	ErrSourceRequired = errors.New("source_url is required")

	// ErrInvalidPreset indicates an unsupported target preset.
	ErrInvalidPreset = errors.New("invalid target preset: must be 'audio', 'video' or 'custom'")

	// ErrExtraArgsRequired indicates a custom preset without engine arguments.
	ErrExtraArgsRequired = errors.New("extra_args is required for the custom preset")

	// ErrInvalidTransition indicates a job status change that would move
	// backwards through the lifecycle.
	ErrInvalidTransition = errors.New("invalid job status transition")
)
