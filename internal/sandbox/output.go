package sandbox

import (
	"bytes"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Console names an output stream.
type Console string

const (
	ConsoleStdout Console = "stdout"
	ConsoleStderr Console = "stderr"
)

// OutputLine is one captured line.
type OutputLine struct {
	Console   Console   `json:"console"`
	Line      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
	Thread    int64     `json:"thread"`
	seq       int64
}

type partialLine struct {
	buf     bytes.Buffer
	started time.Time
}

// outputBuffer collects the lines of one stream of one run. Each writing
// thread has its own pending line; a line is timestamped when its first
// byte arrives.
type outputBuffer struct {
	console Console
	limit   int
	seq     *atomic.Int64

	mu        sync.Mutex
	lines     []OutputLine
	partial   map[int64]*partialLine
	truncated int
}

func newOutputBuffer(console Console, limit int, seq *atomic.Int64) *outputBuffer {
	return &outputBuffer{console: console, limit: limit, seq: seq, partial: make(map[int64]*partialLine)}
}

func (b *outputBuffer) write(thread int64, p []byte, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(p) > 0 {
		pl := b.partial[thread]
		if pl == nil {
			pl = &partialLine{started: now}
			b.partial[thread] = pl
		}
		i := bytes.IndexByte(p, '\n')
		chunk := p
		if i >= 0 {
			chunk = p[:i]
		}
		for _, c := range chunk {
			if c != '\r' {
				pl.buf.WriteByte(c)
			}
		}
		if i < 0 {
			return
		}
		b.appendLocked(thread, pl)
		delete(b.partial, thread)
		p = p[i+1:]
	}
}

func (b *outputBuffer) appendLocked(thread int64, pl *partialLine) {
	if len(b.lines) >= b.limit {
		b.truncated++
		return
	}
	b.lines = append(b.lines, OutputLine{
		Console:   b.console,
		Line:      pl.buf.String(),
		Timestamp: pl.started,
		Thread:    thread,
		seq:       b.seq.Add(1),
	})
}

// flush turns unterminated lines into lines, oldest first.
func (b *outputBuffer) flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	threads := make([]int64, 0, len(b.partial))
	for id := range b.partial {
		threads = append(threads, id)
	}
	sort.Slice(threads, func(i, j int) bool {
		return b.partial[threads[i]].started.Before(b.partial[threads[j]].started)
	})
	for _, id := range threads {
		b.appendLocked(id, b.partial[id])
	}
	b.partial = make(map[int64]*partialLine)
}

func (b *outputBuffer) snapshot() ([]OutputLine, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]OutputLine(nil), b.lines...), b.truncated
}

func mergeLines(streams ...[]OutputLine) []OutputLine {
	var all []OutputLine
	for _, s := range streams {
		all = append(all, s...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.Before(all[j].Timestamp)
		}
		return all[i].seq < all[j].seq
	})
	return all
}

func joinLines(lines []OutputLine, console Console) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		if console == "" || l.Console == console {
			parts = append(parts, l.Line)
		}
	}
	return strings.Join(parts, "\n")
}
