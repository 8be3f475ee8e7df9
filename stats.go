package mdexec

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// span is one profiled node invocation, recording the fields a flame-graph
// renderer needs: name, owning frame, start time, and cost.
type span struct {
	name  string
	frame string
	begin time.Time
	cost  time.Duration
}

// profiler accumulates spans for Executor.Profile's flame-graph writer.
type profiler struct {
	mu    sync.Mutex
	spans []span
}

func newProfiler() *profiler {
	return &profiler{}
}

func (p *profiler) AddSpan(s span) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spans = append(p.spans, s)
}

// draw writes one line per span as "frame/name cost_usec", a flat flame
// graph text format a caller can feed into any flamegraph.pl-compatible
// tool.
func (p *profiler) draw(w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.spans {
		if _, err := fmt.Fprintf(w, "%s/%s %d\n", s.frame, s.name, s.cost.Microseconds()); err != nil {
			return err
		}
	}
	return nil
}

func (es *ExecutorState) statsCollector() StepStatsCollector {
	if es.args.StatsCollector != nil {
		return es.args.StatsCollector
	}
	return NopStatsCollector{}
}

// recordStats forwards one node's timing to the caller's StepStatsCollector
// and to this invocation's profiler.
func (es *ExecutorState) recordStats(item *NodeItem, frame *FrameState, iter int64, scheduled, start, end time.Time, mem uint64) {
	st := &NodeExecStats{
		NodeName:      item.Name,
		FrameName:     frame.Name,
		Iteration:     iter,
		ScheduledUsec: scheduled.UnixMicro(),
		StartUsec:     start.UnixMicro(),
		EndUsec:       end.UnixMicro(),
		MemoryBytes:   mem,
	}
	es.statsCollector().Collect(st)
	es.profiler.AddSpan(span{name: item.Name, frame: frame.Name, begin: start, cost: end.Sub(start)})
}
