package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/nodeforge/pkg/schema"
)

// ExprEngine evaluates node search predicates such as
// `type == "KSampler" && widgets.steps > 20` over a node environment.
// Unknown identifiers evaluate to nil instead of failing compilation, since
// widget names differ per node type.
type ExprEngine struct {
	programs *programCache[*vm.Program]
}

// NewExprEngine returns a predicate engine with an empty compile cache.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{programs: newProgramCache[*vm.Program](maxCachedPrograms)}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string { return "expr" }

// Evaluate runs expression with the keys of env as top-level variables.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, env map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "empty predicate")
	}
	if env == nil {
		env = map[string]any{}
	}
	prg, err := e.programs.get(expression, func(src string) (*vm.Program, error) {
		return compileExpr(src, env)
	})
	if err != nil {
		return nil, err
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeEvaluation, "predicate %q failed: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

// Match evaluates a predicate and reports whether it holds. Nil results are false.
func (e *ExprEngine) Match(ctx context.Context, expression string, env map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, env)
	if err != nil {
		return false, err
	}
	switch v := out.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeEvaluation,
			"predicate %q must evaluate to bool, got %T", expression, out).
			WithDetails(map[string]any{"expression": expression}).
			WithHint("compare values, e.g. widgets.steps > 20")
	}
}

// compileExpr types the program against the first environment it sees.
// Node environments share their keys, so one program serves every node.
func compileExpr(expression string, env map[string]any) (*vm.Program, error) {
	prg, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidationFailed, "predicate compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
