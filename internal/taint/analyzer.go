package taint

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/obsidiansec/argus/api/schemas"
	"github.com/obsidiansec/argus/internal/semantic"
)

// reflectionPenalty is subtracted from a sink's base confidence when the
// callee is only known through dynamic dispatch or reflection.
const reflectionPenalty = 0.3

// origin records where a tainted value entered the program.
type origin struct {
	Source string
	Line   int
}

// taintSet maps a variable name to the origin of its taint.
type taintSet map[string]origin

// Analyzer propagates taint through one file's control-flow graph.
type Analyzer struct {
	logger *zap.Logger
}

func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger.Named("taint")}
}

// Propagate runs worklist fixed-point forward dataflow and returns a finding
// for every distinct (source site, sink site) pair where tainted data reaches
// a sink. A nil registry means the language has no taint vocabulary.
func (a *Analyzer) Propagate(model *semantic.SemanticModel, reg *Registry) []schemas.Finding {
	if reg == nil || model == nil || model.Graph == nil {
		return nil
	}
	p := &propagation{
		model:    model,
		reg:      reg,
		logger:   a.logger,
		outs:     make([]taintSet, len(model.Graph.Blocks)),
		params:   make(map[string]taintSet),
		findings: make(map[string]schemas.Finding),
	}
	p.run()

	keys := make([]string, 0, len(p.findings))
	for k := range p.findings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]schemas.Finding, 0, len(keys))
	for _, k := range keys {
		out = append(out, p.findings[k])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Detector < out[j].Detector
	})
	return out
}

type propagation struct {
	model  *semantic.SemanticModel
	reg    *Registry
	logger *zap.Logger

	outs   []taintSet
	params map[string]taintSet // callee name -> taint injected into params
	preds  [][]int

	findings map[string]schemas.Finding
}

func (p *propagation) run() {
	g := p.model.Graph
	p.preds = make([][]int, len(g.Blocks))
	for i := range g.Blocks {
		for _, s := range g.Blocks[i].Succs {
			p.preds[s] = append(p.preds[s], i)
		}
	}

	queued := make([]bool, len(g.Blocks))
	queue := make([]int, 0, len(g.Blocks))
	enqueue := func(b int) {
		if !queued[b] {
			queued[b] = true
			queue = append(queue, b)
		}
	}
	for i := range g.Blocks {
		enqueue(i)
	}

	// Fixed point is guaranteed: merged origins only move toward earlier
	// lines, and outputs are deterministic in inputs. The cap guards against
	// pathological graphs.
	limit := 32 * (len(g.Blocks) + 1)
	for steps := 0; len(queue) > 0; steps++ {
		if steps > limit {
			p.logger.Warn("Taint propagation did not converge within the iteration cap",
				zap.String("file", p.model.File))
			return
		}
		b := queue[0]
		queue = queue[1:]
		queued[b] = false

		in := p.blockInput(b)
		out, injected := p.transfer(&g.Blocks[b], in)
		if !sameTaint(p.outs[b], out) {
			p.outs[b] = out
			for _, s := range g.Blocks[b].Succs {
				enqueue(s)
			}
		}
		for _, callee := range injected {
			if info, ok := g.Funcs[callee]; ok {
				enqueue(info.Entry)
			}
		}
	}
}

// blockInput merges predecessor outputs; function entry blocks additionally
// receive taint injected at their call sites.
func (p *propagation) blockInput(b int) taintSet {
	in := taintSet{}
	for _, pred := range p.preds[b] {
		mergeTaint(in, p.outs[pred])
	}
	blk := &p.model.Graph.Blocks[b]
	if blk.Kind == semantic.BlockEntry && blk.Func != "" {
		if info, ok := p.model.Graph.Funcs[blk.Func]; ok && info.Entry == b {
			mergeTaint(in, p.params[blk.Func])
		}
	}
	return in
}

// transfer applies a block's statements to the incoming taint state. Sink
// checks run before the statement's own assignments so value flow within the
// statement is observed pre-update. Returns the callees whose parameter
// taint grew.
func (p *propagation) transfer(blk *semantic.Block, in taintSet) (taintSet, []string) {
	state := cloneTaint(in)
	var injected []string
	for si := range blk.Stmts {
		stmt := &blk.Stmts[si]

		for ci := range stmt.Calls {
			call := &stmt.Calls[ci]
			p.checkSink(call, stmt.Line, state)
			injected = append(injected, p.injectParams(call, state)...)
		}

		for _, as := range stmt.Assigns {
			p.applyAssignment(as, stmt.Line, state)
		}
	}
	return state, injected
}

func (p *propagation) applyAssignment(as semantic.Assignment, line int, state taintSet) {
	if p.sanitized(as.Value) {
		for _, t := range as.Targets {
			delete(state, t)
		}
		return
	}
	org, tainted := p.exprOrigin(as.Value, line, state)
	for _, t := range as.Targets {
		if tainted {
			state[t] = org
		} else {
			// Strong update: rebinding to a clean value clears taint.
			delete(state, t)
		}
	}
}

// exprOrigin reports whether an expression carries taint and where it came
// from: a direct source match introduces taint here, otherwise taint flows
// from referenced variables.
func (p *propagation) exprOrigin(e semantic.ExprInfo, line int, state taintSet) (origin, bool) {
	for i := range p.reg.Sources {
		src := &p.reg.Sources[i]
		if src.re.MatchString(e.Text) {
			return origin{Source: src.ID, Line: line}, true
		}
		for _, call := range e.Calls {
			if src.re.MatchString(call) {
				return origin{Source: src.ID, Line: line}, true
			}
		}
	}
	best := origin{}
	found := false
	for _, id := range e.Idents {
		if org, ok := state[id]; ok {
			if !found || earlier(org, best) {
				best, found = org, true
			}
		}
	}
	return best, found
}

func (p *propagation) sanitized(e semantic.ExprInfo) bool {
	for i := range p.reg.Sanitizers {
		for _, call := range e.Calls {
			if p.reg.Sanitizers[i].re.MatchString(call) {
				return true
			}
		}
	}
	return false
}

func (p *propagation) checkSink(call *semantic.CallExpr, line int, state taintSet) {
	for i := range p.reg.Sinks {
		sink := &p.reg.Sinks[i]
		if !sink.re.MatchString(call.Callee) {
			continue
		}
		for _, arg := range call.Args {
			if p.sanitized(arg) {
				continue
			}
			org, tainted := p.exprOrigin(arg, line, state)
			if !tainted {
				continue
			}
			p.record(sink, call, line, org)
		}
	}
}

func (p *propagation) record(sink *Sink, call *semantic.CallExpr, line int, org origin) {
	conf := sink.Confidence
	desc := fmt.Sprintf("tainted value from %s (line %d) reaches %s", org.Source, org.Line, call.Callee)
	if sink.Reflective {
		conf -= reflectionPenalty
		desc += " via dynamic dispatch"
	}
	if conf < 0.05 {
		conf = 0.05
	}
	key := fmt.Sprintf("%d|%d|%s", org.Line, line, sink.ID)
	if _, seen := p.findings[key]; seen {
		return
	}
	p.findings[key] = schemas.Finding{
		Category:    sink.Category,
		File:        p.model.File,
		Line:        line,
		Description: desc,
		Confidence:  conf,
		Detector:    "taint:" + sink.ID,
	}
}

// injectParams carries taint from call arguments into the parameters of a
// locally resolved callee. Returns the callee name when its parameter taint
// grew so the caller can requeue the callee's blocks.
func (p *propagation) injectParams(call *semantic.CallExpr, state taintSet) []string {
	if call.Resolved == "" {
		return nil
	}
	info, ok := p.model.Graph.Funcs[call.Resolved]
	if !ok {
		return nil
	}
	var grown []string
	for i, arg := range call.Args {
		if i >= len(info.Params) {
			break
		}
		org, tainted := p.exprOrigin(arg, call.Line, state)
		if !tainted {
			continue
		}
		set := p.params[call.Resolved]
		if set == nil {
			set = taintSet{}
			p.params[call.Resolved] = set
		}
		param := info.Params[i]
		if prev, ok := set[param]; !ok || earlier(org, prev) {
			set[param] = org
			grown = append(grown, call.Resolved)
		}
	}
	return grown
}

// earlier orders origins for deterministic merges.
func earlier(a, b origin) bool {
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return strings.Compare(a.Source, b.Source) < 0
}

func mergeTaint(dst, src taintSet) {
	for k, v := range src {
		if prev, ok := dst[k]; !ok || earlier(v, prev) {
			dst[k] = v
		}
	}
}

func cloneTaint(s taintSet) taintSet {
	out := make(taintSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func sameTaint(a, b taintSet) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
