package service

import (
	"time"

	"github.com/IvanBrykalov/syncache/failure"
	"github.com/IvanBrykalov/syncache/model"
)

// Metrics receives read/write/fetch signals from the service.
type Metrics interface {
	// Read is called once per read with the policy, the source served
	// (SourceNone on failure) and the failure kind (Unknown on success).
	Read(kind model.Kind, policy string, source Source, fail failure.Kind)
	// Fetch observes one transport fetch; shared fetches are not observed.
	Fetch(kind model.Kind, d time.Duration, err error)
	// Deduplicated counts callers that attached to another caller's fetch.
	Deduplicated(kind model.Kind)
	// RefreshFailed counts background refresh failures.
	RefreshFailed(kind model.Kind)
	// Write is called once per write with its outcome.
	Write(method Method, outcome WriteOutcome)
}

// NoopMetrics does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Read(model.Kind, string, Source, failure.Kind) {}
func (NoopMetrics) Fetch(model.Kind, time.Duration, error)        {}
func (NoopMetrics) Deduplicated(model.Kind)                       {}
func (NoopMetrics) RefreshFailed(model.Kind)                      {}
func (NoopMetrics) Write(Method, WriteOutcome)                    {}

var _ Metrics = NoopMetrics{}
