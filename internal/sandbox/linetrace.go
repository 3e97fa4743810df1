package sandbox

import (
	"sync"

	"runcell/internal/vm"
	"runcell/internal/vm/bytecode"
)

// DefaultLineTraceSteps bounds the steps a line trace records.
const DefaultLineTraceSteps = 5000

// LineTrace records every source line entered by the run's threads.
type LineTrace struct {
	MaxSteps int
}

// LineStep is one entered line.
type LineStep struct {
	Source string `json:"source"`
	Line   int    `json:"line"`
	Thread int64  `json:"thread"`
}

// LineTraceResult is the plugin result stored under "lineTrace".
type LineTraceResult struct {
	Steps        []LineStep `json:"steps"`
	TotalSteps   int64      `json:"totalSteps"`
	LimitReached bool       `json:"limitReached"`
}

func (LineTrace) Name() string { return "lineTrace" }

// Instrument inserts a trace instruction in front of the first
// instruction of every line table entry.
func (LineTrace) Instrument(cf *bytecode.ClassFile) (*bytecode.ClassFile, error) {
	source := cf.SourceFile
	if source == "" {
		source = cf.Name
	}
	for i := range cf.Methods {
		m := cf.Methods[i]
		if len(m.Lines) == 0 {
			continue
		}
		inserts := make(map[int][]bytecode.Instr, len(m.Lines))
		for _, e := range m.Lines {
			inserts[e.PC] = []bytecode.Instr{{Op: bytecode.OpTrace, A: int64(e.Line), S: source}}
		}
		rewritten, err := bytecode.InsertBefore(m, inserts)
		if err != nil {
			return nil, err
		}
		cf.Methods[i] = rewritten
	}
	return cf, nil
}

func (lt LineTrace) NewCollector() Collector {
	limit := lt.MaxSteps
	if limit <= 0 {
		limit = DefaultLineTraceSteps
	}
	return &lineCollector{max: limit}
}

type lineCollector struct {
	mu     sync.Mutex
	max    int
	steps  []LineStep
	total  int64
	capped bool
}

func (c *lineCollector) Trace(t *vm.Thread, source string, line int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	if len(c.steps) >= c.max {
		c.capped = true
		return
	}
	c.steps = append(c.steps, LineStep{Source: source, Line: line, Thread: t.ID()})
}

func (c *lineCollector) Result() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return LineTraceResult{
		Steps:        append([]LineStep(nil), c.steps...),
		TotalSteps:   c.total,
		LimitReached: c.capped,
	}
}
