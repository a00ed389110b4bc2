package metrics

import (
	"context"
	"time"

	"github.com/cuemby/burrow/pkg/capacity"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/target"
)

// DefaultCollectInterval is used when no interval is configured
const DefaultCollectInterval = 30 * time.Second

// TargetLister lists registered targets
type TargetLister interface {
	List() ([]target.Target, error)
}

// Collector refreshes the capacity and target gauges
type Collector struct {
	root     func() string
	prober   capacity.Prober
	targets  TargetLister
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCollector creates a collector. root returns the storage root path, or
// "" while the root is not initialized.
func NewCollector(root func() string, prober capacity.Prober, targets TargetLister, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &Collector{
		root:     root,
		prober:   prober,
		targets:  targets,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer close(c.doneCh)
		defer ticker.Stop()

		// Collect immediately on start
		c.Collect(context.Background())

		for {
			select {
			case <-ticker.C:
				c.Collect(context.Background())
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector and waits for the loop to exit
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// Collect refreshes every gauge once
func (c *Collector) Collect(ctx context.Context) {
	c.collectTargetMetrics()
	c.collectCapacityMetrics(ctx)
}

func (c *Collector) collectTargetMetrics() {
	targets, err := c.targets.List()
	if err != nil {
		logger := log.WithComponent("metrics")
		logger.Debug().Err(err).Msg("failed to list targets")
		return
	}
	TargetsTotal.Set(float64(len(targets)))
}

func (c *Collector) collectCapacityMetrics(ctx context.Context) {
	root := c.root()
	if root == "" {
		UpdateComponent(ComponentRoot, false, "storage root is not initialized")
		return
	}

	snap, err := c.prober.Probe(ctx, root)
	if err != nil {
		UpdateComponent(ComponentRoot, false, err.Error())
		return
	}
	UpdateComponent(ComponentRoot, true, root)
	CapacityTotalBytes.Set(float64(snap.Total))
	CapacityAvailableBytes.Set(float64(snap.Available))
}
