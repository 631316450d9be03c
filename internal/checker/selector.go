package checker

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/fyrsmithlabs/tcsd/internal/gateway"
)

// Selector reduces one row of process data to the scalar a checker watches.
type Selector interface {
	Select(row gateway.Row) float64
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(row gateway.Row) float64

// Select implements Selector.
func (f SelectorFunc) Select(row gateway.Row) float64 {
	return f(row)
}

func (SelectorFunc) String() string { return "func" }

// Column selects the value of a single tag.
func Column(tag string) Selector {
	return column(tag)
}

type column string

func (c column) Select(row gateway.Row) float64 {
	return row.Value(string(c))
}

func (c column) String() string { return string(c) }

// exprEnv declares the variable available to selector expressions:
// tag, a map from tag name to its value in the current row.
var exprEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("tag", cel.MapType(cel.StringType, cel.DoubleType)),
	)
})

// ExprSelector evaluates a CEL expression per row, for example the thermal
// power
//
//	4.2 * tag["FICA-131.PV"] * (tag["TICA-101"] - tag["TICA-102"]) / 3.6
type ExprSelector struct {
	source  string
	program cel.Program
}

// Expr compiles source. The expression must produce a double.
func Expr(source string) (*ExprSelector, error) {
	env, err := exprEnv()
	if err != nil {
		return nil, fmt.Errorf("expression environment: %w", err)
	}

	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.DoubleType) {
		return nil, fmt.Errorf("expression must return double, got %s", ast.OutputType())
	}

	prog, err := env.Program(ast, cel.EvalOptions(cel.OptOptimize))
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return &ExprSelector{source: source, program: prog}, nil
}

// MustExpr is Expr for expressions known at compile time. It panics on error.
func MustExpr(source string) *ExprSelector {
	e, err := Expr(source)
	if err != nil {
		panic(err)
	}
	return e
}

// Select implements Selector. Evaluation errors, such as a tag missing
// from the row, yield NaN.
func (e *ExprSelector) Select(row gateway.Row) float64 {
	out, _, err := e.program.Eval(map[string]any{"tag": row.Map()})
	if err != nil {
		return math.NaN()
	}
	v, ok := out.Value().(float64)
	if !ok {
		return math.NaN()
	}
	return v
}

func (e *ExprSelector) String() string { return e.source }
