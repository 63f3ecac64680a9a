package recovery

import "fmt"

// StrictStrategy fails on the first structural error.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy { return &StrictStrategy{} }

func (s *StrictStrategy) OnError(err error, location Location) Action {
	return ActionFail
}

// LenientStrategy records every error and asks the caller to skip the
// damaged region and continue.
type LenientStrategy struct {
	Errors []error
}

func NewLenientStrategy() *LenientStrategy { return &LenientStrategy{} }

func (s *LenientStrategy) OnError(err error, location Location) Action {
	s.Errors = append(s.Errors, fmt.Errorf("[%s] object %d %d offset %d: %w",
		location.Component, location.ObjectNum, location.ObjectGen, location.ByteOffset, err))
	return ActionSkip
}
