// Package frameval runs neural-network inference over batches of decoded
// video frames. A Session selects an inference backend and manufactures
// evaluator constructors; each constructor describes one device backend and
// builds the evaluators and buffers that a pipeline stage plugs together.
package frameval

import (
	"errors"

	"github.com/scanforge/frameval/backends"
	"github.com/scanforge/frameval/options"
	"github.com/scanforge/frameval/profiling"
	"github.com/scanforge/frameval/util/imageutil"
)

// Session holds the backend configuration, the shared interval profiler,
// and every constructor created through it, so the whole stage can be torn
// down with one Destroy call.
type Session struct {
	constructors       []backends.EvaluatorConstructor
	options            *options.Options
	profiler           *profiling.Profiler
	environmentDestroy func() error
}

type environmentInitializer func(*Session) error

func newSession(backend string, initialize environmentInitializer, opts ...options.WithOption) (*Session, error) {
	parsedOptions := options.Defaults()
	parsedOptions.Backend = backend
	for _, option := range opts {
		if err := option(parsedOptions); err != nil {
			return nil, err
		}
	}

	session := &Session{
		options:  parsedOptions,
		profiler: profiling.New(),
		environmentDestroy: func() error {
			return nil
		},
	}
	if initialize != nil {
		if err := initialize(session); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// NewGoSession creates a session on the pure Go inference runtime. It needs
// no shared libraries and runs everywhere, at the cost of speed.
func NewGoSession(opts ...options.WithOption) (*Session, error) {
	return newSession("GO", nil, opts...)
}

// Options returns the session's parsed options.
func (s *Session) Options() *options.Options {
	return s.options
}

// Profiler returns the interval profiler shared by every evaluator created
// through this session.
func (s *Session) Profiler() *profiling.Profiler {
	return s.profiler
}

// GetStats reports the accumulated timing intervals of all evaluators.
func (s *Session) GetStats() []string {
	return s.profiler.GetStats()
}

// Destroy tears down every constructor created through the session, then
// the backend environment. The session is unusable afterwards.
func (s *Session) Destroy() error {
	var err error
	for _, c := range s.constructors {
		err = errors.Join(err, c.Destroy())
	}
	s.constructors = nil
	err = errors.Join(err, s.options.Destroy(), s.environmentDestroy())
	return err
}

// NewCPUEvaluatorConstructor creates the host-memory reference backend for
// the given model on this session, and registers it for session teardown.
func NewCPUEvaluatorConstructor(s *Session, config backends.EvaluatorConfig, descriptor backends.NetDescriptor, steps ...imageutil.NormalizationStep) (*backends.CPUEvaluatorConstructor, error) {
	constructor, err := backends.NewCPUEvaluatorConstructor(config, descriptor, s.options, s.profiler, steps...)
	if err != nil {
		return nil, err
	}
	s.constructors = append(s.constructors, constructor)
	return constructor, nil
}

// NewCUDAEvaluatorConstructor creates a CUDA-device backend for the given
// model on this session. The session must be an ORT session configured with
// options.WithCuda; builds without ORT support return an error.
func NewCUDAEvaluatorConstructor(s *Session, config backends.EvaluatorConfig, descriptor backends.NetDescriptor, steps ...imageutil.NormalizationStep) (*backends.CUDAEvaluatorConstructor, error) {
	constructor, err := backends.NewCUDAEvaluatorConstructor(config, descriptor, s.options, s.profiler, steps...)
	if err != nil {
		return nil, err
	}
	s.constructors = append(s.constructors, constructor)
	return constructor, nil
}
