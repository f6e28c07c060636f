package pipeline

import "errors"

var (
	// ErrEmptySegment is returned by Observe for text that is empty after
	// trimming. Such segments are discarded.
	ErrEmptySegment = errors.New("empty transcript segment")

	// ErrExtractionService wraps failures of the concept extraction call.
	ErrExtractionService = errors.New("concept extraction service failed")

	// ErrPublish wraps failures handing a result to the message bus.
	ErrPublish = errors.New("publish failed")
)
