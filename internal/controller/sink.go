package controller

import (
	"time"

	"github.com/ChuLiYu/replica-scaler/internal/replica"
)

// Recorder receives controller-level counters. *metrics.Collector implements it.
type Recorder interface {
	RecordCreated(job string)
	RecordFailure(job, kind string)
	RecordScale(job, direction string, elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordCreated(string)                      {}
func (noopRecorder) RecordFailure(string, string)              {}
func (noopRecorder) RecordScale(string, string, time.Duration) {}

// safeSink keeps a misbehaving metrics sink from failing the controller.
type safeSink struct {
	job  string
	next replica.MetricsSink
}

func (s safeSink) guard(op string) {
	if r := recover(); r != nil {
		log().Warn("Metrics sink failed", "job", s.job, "op", op, "panic", r)
	}
}

func (s safeSink) Increment() {
	defer s.guard("increment")
	s.next.Increment()
}

func (s safeSink) Decrement() {
	defer s.guard("decrement")
	s.next.Decrement()
}

func (s safeSink) Set(value float64) {
	defer s.guard("set")
	s.next.Set(value)
}

// safeRecorder does the same for the Recorder.
type safeRecorder struct {
	next Recorder
}

func (r safeRecorder) guard() {
	if p := recover(); p != nil {
		log().Warn("Metrics recorder failed", "panic", p)
	}
}

func (r safeRecorder) RecordCreated(job string) {
	defer r.guard()
	r.next.RecordCreated(job)
}

func (r safeRecorder) RecordFailure(job, kind string) {
	defer r.guard()
	r.next.RecordFailure(job, kind)
}

func (r safeRecorder) RecordScale(job, direction string, elapsed time.Duration) {
	defer r.guard()
	r.next.RecordScale(job, direction, elapsed)
}
