package core

import (
	"time"

	"github.com/google/uuid"

	"watershed/pkg/domain"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger; nil keeps the no-op default.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithRunStore makes Run persist every run record it produces.
func WithRunStore(store domain.RunStore) Option {
	return func(s *Service) { s.runs = store }
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func defaultService() *Service {
	return &Service{
		logger:  noopLogger{},
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		newID:   uuid.NewString,
	}
}
