package busline

import (
	"context"
)

// SagaResult is the explicit outcome of a saga entry point.
// Completion is a return value, not a flag read back off the instance,
// so the contract between business logic and the orchestrator stays
// visible at the call site.
type SagaResult struct {
	// Complete marks the saga instance finished; the orchestrator
	// deletes its record instead of updating it.
	Complete bool
}

// Continue reports the saga should keep running.
func Continue() SagaResult {
	return SagaResult{}
}

// Complete reports the saga finished.
func Complete() SagaResult {
	return SagaResult{Complete: true}
}

// Saga is implemented by long-running business process instances.
// The orchestrator owns the persistence envelope: it hydrates instances
// from the saga store before Handle and persists (or deletes) them
// afterward based on the returned SagaResult.
type Saga interface {
	// SagaType returns the registered saga type name.
	SagaType() string

	// Handle advances the saga with one message and reports whether the
	// instance completed.
	Handle(ctx context.Context, msg Message, cc *ConsumeContext) (SagaResult, error)

	// Data returns the saga's state for persistence.
	Data() map[string]any

	// SetData restores the saga's state from persisted data.
	SetData(data map[string]any)
}

// SagaFactory creates fresh saga instances.
type SagaFactory func() Saga

// SagaBase provides a map-backed partial implementation of Saga.
// Embed it in saga types that keep their state in the data map directly;
// sagas with typed state implement Data/SetData themselves.
type SagaBase struct {
	sagaType string
	data     map[string]any
}

// NewSagaBase creates a SagaBase for the given saga type.
func NewSagaBase(sagaType string) SagaBase {
	return SagaBase{
		sagaType: sagaType,
		data:     make(map[string]any),
	}
}

// SagaType returns the registered saga type name.
func (s *SagaBase) SagaType() string {
	return s.sagaType
}

// Data returns the saga's state.
func (s *SagaBase) Data() map[string]any {
	if s.data == nil {
		s.data = make(map[string]any)
	}
	return s.data
}

// SetData restores the saga's state.
func (s *SagaBase) SetData(data map[string]any) {
	s.data = data
}

// Set writes one state field.
func (s *SagaBase) Set(key string, value any) {
	s.Data()[key] = value
}

// Get reads one state field.
func (s *SagaBase) Get(key string) (any, bool) {
	v, ok := s.Data()[key]
	return v, ok
}
