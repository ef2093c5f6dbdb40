package usecase

import "time"

// Recorder receives pipeline observations. metrics.Collector implements it.
type Recorder interface {
	ObserveVerdict(status string)
	ObserveFailure(kind string)
	ObserveFallback()
	ObserveClassifierLatency(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveVerdict(string)                  {}
func (nopRecorder) ObserveFailure(string)                  {}
func (nopRecorder) ObserveFallback()                       {}
func (nopRecorder) ObserveClassifierLatency(time.Duration) {}
