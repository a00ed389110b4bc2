package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeExec CheckType = "exec"
	CheckTypeFunc CheckType = "func"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Config contains common configuration for all health checks
type Config struct {
	// Interval is the time between health checks
	Interval time.Duration

	// Timeout is the maximum time to wait for a health check to complete
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking as unhealthy
	Retries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  1,
	}
}

// Status tracks the current health status of a component
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
}

// NewStatus creates a new Status. Components start unhealthy until their
// first successful check.
func NewStatus() *Status {
	return &Status{}
}

// Update updates the status based on a new health check result
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0

	// Mark as unhealthy after reaching retry threshold
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}

// FuncChecker adapts a probe function into a Checker
type FuncChecker struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncChecker creates a checker that is healthy when fn returns nil
func NewFuncChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn}
}

// Check runs the probe function
func (f *FuncChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := f.fn(ctx); err != nil {
		return Result{Healthy: false, Message: f.name + ": " + err.Error(), CheckedAt: start, Duration: time.Since(start)}
	}
	return Result{Healthy: true, Message: f.name, CheckedAt: start, Duration: time.Since(start)}
}

// Type returns the health check type
func (f *FuncChecker) Type() CheckType {
	return CheckTypeFunc
}
