package output

import (
	"sync"
	"time"

	"github.com/acolita/blockterm/internal/ports"
)

// DefaultDebounce is the quiescence window before the settled pass runs.
const DefaultDebounce = 250 * time.Millisecond

// DefaultTailLines is how many trailing lines the immediate path receives.
const DefaultTailLines = 5

// Update is the result of one settled pass.
type Update struct {
	Dir        string
	DirChanged bool
	Items      []string
	Cleared    bool
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Clock     ports.Clock
	Debounce  time.Duration
	TailLines int

	// Immediate runs synchronously inside Feed for every chunk with the
	// trailing lines, the unterminated one last.
	Immediate func(tail []string)

	// Settled runs after Debounce passes with no Feed. It runs on the clock's
	// timer goroutine.
	Settled func(Update)
}

// Pipeline taps one output stream on two cadences: an immediate pass per
// chunk and a debounced pass that strips escapes, infers the working
// directory and extracts item names.
type Pipeline struct {
	opts PipelineOptions

	mu      sync.Mutex
	lines   LineAssembler
	tail    []string
	pending []string
	ctx     *DirContext
	timer   ports.Timer
	gen     uint64
	stopped bool
}

// NewPipeline creates a pipeline.
func NewPipeline(opts PipelineOptions) *Pipeline {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.TailLines <= 0 {
		opts.TailLines = DefaultTailLines
	}
	return &Pipeline{opts: opts, ctx: NewDirContext()}
}

// Feed pushes one raw chunk through the pipeline.
func (p *Pipeline) Feed(text string) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}

	for _, line := range p.lines.Push(text) {
		p.tail = append(p.tail, line)
		p.pending = append(p.pending, line)
	}
	if len(p.tail) > p.opts.TailLines {
		p.tail = append(p.tail[:0], p.tail[len(p.tail)-p.opts.TailLines:]...)
	}

	tail := make([]string, 0, len(p.tail)+1)
	tail = append(tail, p.tail...)
	if partial := p.lines.Partial(); partial != "" {
		tail = append(tail, partial)
		if len(tail) > p.opts.TailLines {
			tail = tail[1:]
		}
	}

	p.mu.Unlock()

	// The immediate pass sees every chunk before its settled pass is scheduled.
	if p.opts.Immediate != nil {
		p.opts.Immediate(tail)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.gen++
	gen := p.gen
	p.timer = p.opts.Clock.AfterFunc(p.opts.Debounce, func() { p.settle(gen) })
}

// Flush runs the settled pass now instead of waiting for quiescence.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	p.settle(gen)
}

func (p *Pipeline) settle(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || p.stopped {
		p.mu.Unlock()
		return
	}
	p.timer = nil

	// The unterminated line is usually the prompt itself; it is scanned now
	// and again once it completes.
	lines := p.pending
	p.pending = nil
	if partial := p.lines.Partial(); partial != "" {
		lines = append(lines, partial)
	}

	clean := make([]string, len(lines))
	for i, l := range lines {
		clean[i] = StripANSI(l)
	}

	var u Update
	for i := len(clean) - 1; i >= 0; i-- {
		if dir, ok := InferDirectory(clean[i]); ok {
			u.DirChanged = p.ctx.SetDir(dir)
			break
		}
	}
	u.Cleared = ExtractItems(clean, p.ctx.Items)
	u.Dir = p.ctx.Dir
	u.Items = p.ctx.Items.Sorted()
	p.mu.Unlock()

	if p.opts.Settled != nil {
		p.opts.Settled(u)
	}
}

// Context returns the current directory and sorted items.
func (p *Pipeline) Context() (dir string, items []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx.Dir, p.ctx.Items.Sorted()
}

// Reset drops buffered lines and the directory context, e.g. when the
// connection that produced them ends.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.gen++
	p.lines = LineAssembler{}
	p.tail = nil
	p.pending = nil
	p.ctx.Reset()
}

// Stop cancels any scheduled pass; later Feeds are ignored.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
