package health

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// ReportFunc receives the aggregated health of a component
type ReportFunc func(component string, healthy bool, message string)

// Monitor runs groups of checkers per component and reports the result
type Monitor struct {
	config     Config
	report     ReportFunc
	components map[string][]Checker

	mu       sync.Mutex
	statuses map[string]*Status
}

// NewMonitor creates a monitor that reports through report
func NewMonitor(config Config, report ReportFunc) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Retries <= 0 {
		config.Retries = 1
	}
	return &Monitor{
		config:     config,
		report:     report,
		components: make(map[string][]Checker),
		statuses:   make(map[string]*Status),
	}
}

// Add registers checkers for a component. The component is healthy when
// all of them are.
func (m *Monitor) Add(component string, checkers ...Checker) {
	m.components[component] = append(m.components[component], checkers...)
	m.statuses[component] = NewStatus()
}

// CheckOnce runs every checker and reports each component
func (m *Monitor) CheckOnce(ctx context.Context) {
	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		result := m.checkComponent(ctx, m.components[name])

		m.mu.Lock()
		status := m.statuses[name]
		status.Update(result, m.config)
		healthy := status.Healthy
		m.mu.Unlock()

		if m.report != nil {
			m.report(name, healthy, result.Message)
		}
	}
}

// Run checks immediately and then every interval until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.CheckOnce(ctx)
	for {
		select {
		case <-ticker.C:
			m.CheckOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Status returns a copy of the last status of a component
func (m *Monitor) Status(component string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[component]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

func (m *Monitor) checkComponent(ctx context.Context, checkers []Checker) Result {
	start := time.Now()
	healthy := true
	var messages []string

	for _, c := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
		r := c.Check(checkCtx)
		cancel()
		if !r.Healthy {
			healthy = false
		}
		messages = append(messages, r.Message)
	}

	return Result{
		Healthy:   healthy,
		Message:   strings.Join(messages, "; "),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
