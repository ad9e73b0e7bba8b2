// Package mangle exposes a prepared run as a Datalog catalogue. Bindings,
// filter chains and classification warnings become facts; the rules in
// catalogue.mg derive views such as unfiltered or uninstrumented detectors,
// and Query answers ad-hoc atoms over all of it.
package mangle

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"

	"ddsim/internal/resolve"
	"ddsim/internal/sd"
	"ddsim/internal/simulation"
)

//go:embed catalogue.mg
var catalogueSchema string

// NoAction is the action argument of a detector left without action.
const NoAction = "/none"

// Config holds catalogue limits.
type Config struct {
	FactLimit    int           `yaml:"factLimit"`
	QueryTimeout time.Duration `yaml:"queryTimeout"`
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		FactLimit:    100000,
		QueryTimeout: 5 * time.Second,
	}
}

// Engine holds the catalogue program and its facts.
type Engine struct {
	config Config
	logger *zap.Logger

	mu             sync.RWMutex
	store          factstore.ConcurrentFactStore
	programInfo    *analysis.ProgramInfo
	predicateIndex map[string]ast.PredicateSym
	fragments      []parse.SourceUnit
	factCount      int
}

// Fact is one ground atom.
type Fact struct {
	Predicate string `json:"predicate" yaml:"predicate"`
	Args      []any  `json:"args" yaml:"args"`
}

// String returns the Datalog representation of the fact.
func (f Fact) String() string {
	args := make([]string, 0, len(f.Args))
	for _, arg := range f.Args {
		switch v := arg.(type) {
		case string:
			if strings.HasPrefix(v, "/") {
				args = append(args, v)
			} else {
				args = append(args, fmt.Sprintf("%q", v))
			}
		case int64:
			args = append(args, fmt.Sprintf("%d", v))
		case float64:
			args = append(args, fmt.Sprintf("%g", v))
		default:
			args = append(args, fmt.Sprintf("%v", v))
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(args, ", "))
}

// QueryResult holds the matching facts and the variable bindings of each.
type QueryResult struct {
	Query    string           `json:"query" yaml:"query"`
	Facts    []Fact           `json:"facts" yaml:"facts"`
	Bindings []map[string]any `json:"bindings" yaml:"bindings"`
	Duration time.Duration    `json:"duration" yaml:"duration"`
}

// Stats counts facts per predicate.
type Stats struct {
	TotalFacts      int            `json:"totalFacts"`
	PredicateCounts map[string]int `json:"predicateCounts"`
}

// NewEngine creates an engine with the catalogue schema loaded.
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		config:         cfg,
		logger:         logger,
		store:          factstore.NewConcurrentFactStore(factstore.NewSimpleInMemoryStore()),
		predicateIndex: make(map[string]ast.PredicateSym),
	}
	if err := e.LoadRules(catalogueSchema); err != nil {
		return nil, fmt.Errorf("catalogue schema: %w", err)
	}
	return e, nil
}

// LoadRules adds declarations and rules to the program. Facts already
// present are kept and the rules are re-evaluated.
func (e *Engine) LoadRules(src string) error {
	unit, err := parse.Unit(bytes.NewReader([]byte(src)))
	if err != nil {
		return fmt.Errorf("failed to parse rules: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.fragments = append(e.fragments, unit)
	if err := e.rebuildProgramLocked(); err != nil {
		e.fragments = e.fragments[:len(e.fragments)-1]
		if rerr := e.rebuildProgramLocked(); rerr != nil {
			e.logger.Error("Failed to restore catalogue program", zap.Error(rerr))
		}
		return fmt.Errorf("failed to analyze rules: %w", err)
	}
	if e.factCount > 0 {
		return e.evalLocked()
	}
	return nil
}

func (e *Engine) rebuildProgramLocked() error {
	var unit parse.SourceUnit
	for _, f := range e.fragments {
		unit.Clauses = append(unit.Clauses, f.Clauses...)
		unit.Decls = append(unit.Decls, f.Decls...)
	}

	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return err
	}

	e.programInfo = programInfo
	e.predicateIndex = make(map[string]ast.PredicateSym, len(programInfo.Decls))
	for sym := range programInfo.Decls {
		e.predicateIndex[sym.Symbol] = sym
	}
	return nil
}

// Load replaces the catalogue's facts with those of plan and evaluates the
// rules.
func (e *Engine) Load(plan *simulation.Plan) error {
	facts := PlanFacts(plan)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.store = factstore.NewConcurrentFactStore(factstore.NewSimpleInMemoryStore())
	e.factCount = 0
	for _, f := range facts {
		if err := e.insertLocked(f); err != nil {
			return err
		}
	}
	if err := e.evalLocked(); err != nil {
		return err
	}
	e.logger.Debug("Catalogue loaded",
		zap.String("run", plan.RunID),
		zap.Int("facts", e.factCount))
	return nil
}

// AddFacts inserts facts and re-evaluates the rules.
func (e *Engine) AddFacts(facts ...Fact) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range facts {
		if err := e.insertLocked(f); err != nil {
			return err
		}
	}
	return e.evalLocked()
}

func (e *Engine) evalLocked() error {
	if _, err := mengine.EvalProgramWithStats(e.programInfo, e.store); err != nil {
		return fmt.Errorf("rule evaluation failed: %w", err)
	}
	return nil
}

func (e *Engine) insertLocked(f Fact) error {
	if e.config.FactLimit > 0 && e.factCount >= e.config.FactLimit {
		return fmt.Errorf("fact limit exceeded: %d", e.config.FactLimit)
	}
	sym, ok := e.predicateIndex[f.Predicate]
	if !ok {
		return fmt.Errorf("predicate %s is not declared", f.Predicate)
	}
	if len(f.Args) != sym.Arity {
		return fmt.Errorf("predicate %s expects %d args, got %d", f.Predicate, sym.Arity, len(f.Args))
	}
	args := make([]ast.BaseTerm, len(f.Args))
	for i, raw := range f.Args {
		term, err := toTerm(raw)
		if err != nil {
			return fmt.Errorf("predicate %s arg %d: %w", f.Predicate, i, err)
		}
		args[i] = term
	}
	if e.store.Add(ast.Atom{Predicate: sym, Args: args}) {
		e.factCount++
	}
	return nil
}

// toTerm converts a Go value into a constant. Strings starting with "/" are
// names; every other string stays a string.
func toTerm(v any) (ast.BaseTerm, error) {
	switch v := v.(type) {
	case ast.BaseTerm:
		return v, nil
	case string:
		if strings.HasPrefix(v, "/") {
			name, err := ast.Name(v)
			if err != nil {
				return nil, err
			}
			return name, nil
		}
		return ast.String(v), nil
	case int:
		return ast.Number(int64(v)), nil
	case int64:
		return ast.Number(v), nil
	case float64:
		return ast.Float64(v), nil
	case bool:
		if v {
			return ast.TrueConstant, nil
		}
		return ast.FalseConstant, nil
	default:
		return nil, fmt.Errorf("unsupported fact argument type %T", v)
	}
}

func fromTerm(term ast.BaseTerm) any {
	c, ok := term.(ast.Constant)
	if !ok {
		return fmt.Sprint(term)
	}
	switch c.Type {
	case ast.StringType, ast.NameType, ast.BytesType:
		return c.Symbol
	case ast.NumberType:
		return c.NumValue
	case ast.Float64Type:
		return math.Float64frombits(uint64(c.NumValue))
	default:
		return c.String()
	}
}

// Query returns the facts matching atom, e.g. `unfiltered(D)` or
// `sd_binding(D, _, /calorimeter, A)`. Constants in the atom must match;
// variables are reported in the bindings.
func (e *Engine) Query(ctx context.Context, query string) (*QueryResult, error) {
	atom, vars, err := parseQuery(query)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	sym, ok := e.predicateIndex[atom.Predicate.Symbol]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("predicate %s is not declared (known: %s)", atom.Predicate.Symbol, strings.Join(e.Predicates(), ", "))
	}
	if sym.Arity != atom.Predicate.Arity {
		return nil, fmt.Errorf("predicate %s expects %d args, query has %d", sym.Symbol, sym.Arity, atom.Predicate.Arity)
	}

	if _, ok := ctx.Deadline(); !ok && e.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	type outcome struct {
		res *QueryResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res := &QueryResult{Query: query}
		e.mu.RLock()
		defer e.mu.RUnlock()
		err := e.store.GetFacts(atom, func(fact ast.Atom) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f := Fact{Predicate: sym.Symbol, Args: make([]any, len(fact.Args))}
			for i, arg := range fact.Args {
				f.Args[i] = fromTerm(arg)
			}
			row := make(map[string]any, len(vars))
			for name, idx := range vars {
				row[name] = f.Args[idx]
			}
			res.Facts = append(res.Facts, f)
			res.Bindings = append(res.Bindings, row)
			return nil
		})
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		out.res.Duration = time.Since(start)
		sortFacts(out.res)
		return out.res, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("query timed out after %v: %w", time.Since(start), ctx.Err())
	}
}

// sortFacts orders results by their Datalog text so output is stable.
func sortFacts(res *QueryResult) {
	idx := make([]int, len(res.Facts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return res.Facts[idx[a]].String() < res.Facts[idx[b]].String()
	})
	facts := make([]Fact, len(idx))
	rows := make([]map[string]any, len(idx))
	for i, j := range idx {
		facts[i] = res.Facts[j]
		rows[i] = res.Bindings[j]
	}
	res.Facts, res.Bindings = facts, rows
}

// parseQuery parses an atom and maps each named variable to its first
// argument position. The wildcard _ is not reported.
func parseQuery(query string) (ast.Atom, map[string]int, error) {
	clean := strings.TrimSpace(query)
	clean = strings.TrimSpace(strings.TrimPrefix(clean, "?"))
	clean = strings.TrimSpace(strings.TrimSuffix(clean, "."))
	if clean == "" {
		return ast.Atom{}, nil, fmt.Errorf("empty query")
	}
	atom, err := parse.Atom(clean)
	if err != nil {
		return ast.Atom{}, nil, fmt.Errorf("failed to parse query %q: %w", query, err)
	}
	vars := make(map[string]int)
	for i, arg := range atom.Args {
		v, ok := arg.(ast.Variable)
		if !ok || v.Symbol == "_" {
			continue
		}
		if _, seen := vars[v.Symbol]; !seen {
			vars[v.Symbol] = i
		}
	}
	return atom, vars, nil
}

// GetFacts returns every fact of predicate.
func (e *Engine) GetFacts(predicate string) ([]Fact, error) {
	e.mu.RLock()
	sym, ok := e.predicateIndex[predicate]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("predicate %s is not declared", predicate)
	}
	args := make([]string, sym.Arity)
	for i := range args {
		args[i] = "_"
	}
	res, err := e.Query(context.Background(), fmt.Sprintf("%s(%s)", predicate, strings.Join(args, ", ")))
	if err != nil {
		return nil, err
	}
	return res.Facts, nil
}

// Predicates lists the declared predicates.
func (e *Engine) Predicates() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.predicateIndex))
	for name := range e.predicateIndex {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// GetStats counts the facts of every predicate, derived ones included.
func (e *Engine) GetStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	counts := make(map[string]int)
	total := 0
	for _, sym := range e.store.ListPredicates() {
		n := 0
		err := e.store.GetFacts(ast.NewQuery(sym), func(ast.Atom) error {
			n++
			return nil
		})
		if err != nil {
			e.logger.Warn("Failed to count facts",
				zap.String("predicate", sym.Symbol),
				zap.Error(err))
		}
		counts[sym.Symbol] = n
		total += n
	}
	return Stats{TotalFacts: total, PredicateCounts: counts}
}

// PlanFacts converts a plan into catalogue facts.
func PlanFacts(plan *simulation.Plan) []Fact {
	var facts []Fact
	for _, f := range plan.Filters {
		facts = append(facts, Fact{Predicate: "filter_def", Args: []any{f.ID, f.Plugin}})
	}
	if plan.Result == nil {
		return facts
	}
	for _, b := range plan.Result.Bindings {
		action := NoAction
		if b.Action != nil {
			action = b.Action.Name
		}
		facts = append(facts,
			Fact{Predicate: "sd_binding", Args: []any{b.Detector, b.SensitiveType, categoryName(b.Category), action}},
			Fact{Predicate: "sd_source", Args: []any{b.Detector, sourceName(b.ActionSource), sourceName(b.FilterSource)}},
		)
		for i, id := range b.Filters {
			facts = append(facts, Fact{Predicate: "sd_filter", Args: []any{b.Detector, id, int64(i)}})
		}
	}
	for _, d := range plan.Result.Diagnostics {
		facts = append(facts, Fact{Predicate: "sd_unknown", Args: []any{d.Detector, d.SensitiveType}})
	}
	return facts
}

func categoryName(c sd.Category) string { return "/" + strings.ToLower(c.String()) }

func sourceName(s resolve.Source) string { return "/" + string(s) }
