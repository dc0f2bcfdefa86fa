package job

import "errors"

var (
	// Definition errors
	ErrEmptyJobName = errors.New("job name cannot be empty")

	// Handler errors
	ErrNilHandler          = errors.New("job handler cannot be nil")
	ErrBatchSizeRequired   = errors.New("batch handler requires a positive batch size")
	ErrBatchSizeNotAllowed = errors.New("single job handler cannot be registered with a batch size")
	ErrInvalidPayload      = errors.New("failed to decode job payload")

	// Container errors
	ErrDuplicateProvider  = errors.New("provider already registered for token")
	ErrContainerSealed    = errors.New("container is sealed: providers must be registered before the first resolve")
	ErrProviderNotFound   = errors.New("no provider registered for token")
	ErrCircularDependency = errors.New("circular provider dependency")
	ErrUnexpectedType     = errors.New("resolved value has unexpected type")
	ErrNilEngine          = errors.New("queue engine cannot be nil")
	ErrNilBuild           = errors.New("provider build function cannot be nil")

	// Bootstrap errors
	ErrDuplicateHandler    = errors.New("more than one handler registered for job")
	ErrAlreadyBootstrapped = errors.New("handlers already bootstrapped")
)
