package funding

import "errors"

var (
	ErrStageNotFound          = errors.New("funding stage not found")
	ErrInvalidStageTransition = errors.New("invalid stage transition")
	ErrNoCurrentStage         = errors.New("all funding stages are completed")
	ErrTrackerNotFound        = errors.New("funding tracker not found")
	ErrTrackerExists          = errors.New("funding tracker already exists")
	ErrInvalidCatalog         = errors.New("invalid stage catalog")
	ErrCorruptState           = errors.New("corrupt tracker state")
	// ErrConcurrentUpdate is returned when a stored tracker changed between
	// read and write.
	ErrConcurrentUpdate = errors.New("concurrent tracker update")
)
