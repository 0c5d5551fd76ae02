package metrics

import (
	"time"

	"github.com/dualhorizon/malbox/pkg/plugin"
	"github.com/dualhorizon/malbox/pkg/resource"
)

// Collector periodically polls the Resource Manager, Plugin Manager and
// task queue for point-in-time counts and republishes them as gauges.
type Collector struct {
	resources  *resource.Manager
	plugins    *plugin.Manager
	queueDepth func() int
	stopCh     chan struct{}
}

// NewCollector creates a metrics collector over the engine's core
// components. plugins may be nil if the Plugin Manager isn't available yet
// (e.g. before discovery has run); plugin metrics are simply skipped.
// queueDepth is typically Coordinator.QueueDepth; nil skips queue metrics.
func NewCollector(resources *resource.Manager, plugins *plugin.Manager, queueDepth func() int) *Collector {
	return &Collector{
		resources:  resources,
		plugins:    plugins,
		queueDepth: queueDepth,
		stopCh:     make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectQueueMetrics()
	c.collectResourceMetrics()
	c.collectPluginMetrics()
}

func (c *Collector) collectQueueMetrics() {
	if c.queueDepth == nil {
		return
	}
	QueueDepth.Set(float64(c.queueDepth()))
}

func (c *Collector) collectResourceMetrics() {
	if c.resources == nil {
		return
	}
	counts := make(map[[2]string]int)
	for _, res := range c.resources.List() {
		key := [2]string{string(res.Kind), string(res.Status.State)}
		counts[key]++
	}
	for key, count := range counts {
		ResourcesTotal.WithLabelValues(key[0], key[1]).Set(float64(count))
	}
}

func (c *Collector) collectPluginMetrics() {
	if c.plugins == nil {
		return
	}
	counts := make(map[string]int)
	for _, inst := range c.plugins.Instances() {
		counts[string(inst.State)]++
	}
	for state, count := range counts {
		PluginInstancesTotal.WithLabelValues(state).Set(float64(count))
	}
}
