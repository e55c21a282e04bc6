package model

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// Model is a parsed "response ~ expression" formula.
type Model struct {
	formula    string
	response   string
	rhs        string
	predictors []string
	params     []string
	program    *vm.Program
}

// constants are identifiers resolved by the model itself rather than by data or parameters.
var constants = map[string]float64{
	"pi": math.Pi,
}

// Parse parses a formula of the form "y ~ a * exp(-b * x)".
// Identifiers on the right-hand side that are neither predictors nor
// functions/constants are the model's free parameters, in order of first
// appearance.
func Parse(formula string, predictors []string) (*Model, error) {
	lhs, rhs, ok := strings.Cut(formula, "~")
	if !ok {
		return nil, &FormulaError{Formula: formula, Reason: "missing '~'"}
	}
	response := strings.TrimSpace(lhs)
	rhs = strings.TrimSpace(rhs)
	if response == "" {
		return nil, &FormulaError{Formula: formula, Reason: "missing response variable"}
	}
	if rhs == "" {
		return nil, &FormulaError{Formula: formula, Reason: "missing model expression"}
	}
	if len(predictors) == 0 {
		return nil, &FormulaError{Formula: formula, Reason: "at least one predictor is required"}
	}

	tree, err := parser.Parse(rhs)
	if err != nil {
		return nil, &FormulaError{Formula: formula, Reason: err.Error()}
	}

	collector := &identCollector{seen: map[string]bool{}}
	ast.Walk(&tree.Node, collector)

	isPredictor := make(map[string]bool, len(predictors))
	for _, p := range predictors {
		isPredictor[p] = true
	}
	used := make(map[string]bool)
	var params []string
	for name := range collector.seen {
		if _, fn := functions[name]; fn {
			continue
		}
		if _, c := constants[name]; c {
			continue
		}
		if isPredictor[name] {
			used[name] = true
			continue
		}
		params = append(params, name)
	}
	if !used[predictors[0]] {
		return nil, &FormulaError{Formula: formula, Reason: fmt.Sprintf("primary predictor %q does not appear in the expression", predictors[0])}
	}
	if len(params) == 0 {
		return nil, &FormulaError{Formula: formula, Reason: "no free parameters"}
	}
	orderByAppearance(rhs, params)

	env := make(map[string]any, len(params)+len(predictors)+len(constants))
	for _, p := range params {
		env[p] = 0.0
	}
	for _, p := range predictors {
		env[p] = 0.0
	}
	for k, v := range constants {
		env[k] = v
	}

	program, err := expr.Compile(rhs, compileOptions(env)...)
	if err != nil {
		return nil, &FormulaError{Formula: formula, Reason: err.Error()}
	}

	return &Model{
		formula:    formula,
		response:   response,
		rhs:        rhs,
		predictors: append([]string(nil), predictors...),
		params:     params,
		program:    program,
	}, nil
}

// Formula returns the formula as given to Parse.
func (m *Model) Formula() string { return m.formula }

// Response returns the response (left-hand side) variable name.
func (m *Model) Response() string { return m.response }

// Predictors returns the predictor names; the first one is the primary predictor.
func (m *Model) Predictors() []string { return append([]string(nil), m.predictors...) }

// Params returns the free parameter names in order of first appearance.
func (m *Model) Params() []string { return append([]string(nil), m.params...) }

// NumParams returns the number of free parameters.
func (m *Model) NumParams() int { return len(m.params) }

// NewEvaluator returns an evaluator bound to this model.
// Evaluators are not safe for concurrent use; create one per goroutine.
func (m *Model) NewEvaluator() *Evaluator {
	env := make(map[string]any, len(m.params)+len(m.predictors)+len(constants))
	for k, v := range constants {
		env[k] = v
	}
	return &Evaluator{model: m, env: env}
}

// Evaluator evaluates the model expression for concrete parameter and predictor values.
type Evaluator struct {
	model *Model
	env   map[string]any
	vm    vm.VM
}

// Eval returns the predicted response for params (in declaration order) and
// one row of predictor values (in predictor order).
func (e *Evaluator) Eval(params, predictors []float64) (float64, error) {
	if len(params) != len(e.model.params) {
		return math.NaN(), fmt.Errorf("expected %d parameters, got %d", len(e.model.params), len(params))
	}
	if len(predictors) != len(e.model.predictors) {
		return math.NaN(), fmt.Errorf("expected %d predictors, got %d", len(e.model.predictors), len(predictors))
	}
	for i, name := range e.model.params {
		e.env[name] = params[i]
	}
	for i, name := range e.model.predictors {
		e.env[name] = predictors[i]
	}

	out, err := e.vm.Run(e.model.program, e.env)
	if err != nil {
		return math.NaN(), fmt.Errorf("evaluate %q: %w", e.model.rhs, err)
	}
	return toFloat(out)
}

// FormulaError reports a formula that cannot be parsed or compiled.
type FormulaError struct {
	Formula string
	Reason  string
}

func (e *FormulaError) Error() string {
	return "invalid formula " + fmt.Sprintf("%q", e.Formula) + ": " + e.Reason
}

type identCollector struct {
	seen map[string]bool
}

func (c *identCollector) Visit(node *ast.Node) {
	if n, ok := (*node).(*ast.IdentifierNode); ok {
		c.seen[n.Value] = true
	}
}

// orderByAppearance sorts names by the offset of their first whole-word
// occurrence in src. The AST walk is post-order, which is not source order.
func orderByAppearance(src string, names []string) {
	pos := make(map[string]int, len(names))
	for _, name := range names {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
		if loc := re.FindStringIndex(src); loc != nil {
			pos[name] = loc[0]
		} else {
			pos[name] = len(src)
		}
	}
	sort.SliceStable(names, func(i, j int) bool {
		if pos[names[i]] != pos[names[j]] {
			return pos[names[i]] < pos[names[j]]
		}
		return names[i] < names[j]
	})
}
