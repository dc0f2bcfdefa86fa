package jobkit

import "errors"

var (
	// ErrUnknownEngine is returned for JOBKIT_ENGINE values other than memory, postgres or redis
	ErrUnknownEngine = errors.New("unknown queue engine")

	// ErrMissingEngineConfig is returned by Open when the selected engine has no connection settings
	ErrMissingEngineConfig = errors.New("missing connection settings for the selected engine")

	// ErrFailedToOpen is returned when the engine or its backing store cannot be set up
	ErrFailedToOpen = errors.New("failed to open job runtime")
)
