package query

import (
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/tobsdb/nanoq/internal/builder"
	"github.com/tobsdb/nanoq/pkg"
)

// Expr is a CEL predicate over the variable `row`, e.g. `row.age > 30 && row.name.startsWith("a")`.
// It is the serialisable form of a predicate function.
type Expr string

var (
	expr_env      *cel.Env
	expr_env_err  error
	expr_env_once sync.Once
)

func exprEnv() (*cel.Env, error) {
	expr_env_once.Do(func() {
		expr_env, expr_env_err = cel.NewEnv(
			cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return expr_env, expr_env_err
}

func compileExpr(expr Expr) (func(builder.Row) bool, error) {
	if fn, ok := expr_cache.Get(string(expr)); ok {
		return fn, nil
	}

	env, err := exprEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(string(expr))
	if issues != nil && issues.Err() != nil {
		return nil, ValidationError("Invalid expression: %s", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, ValidationError("Invalid expression: %s", err)
	}

	fn := func(row builder.Row) bool {
		out, _, err := prg.Eval(map[string]any{"row": map[string]any(row)})
		if err != nil {
			// missing keys and type mismatches read as no match
			pkg.DebugLog("expression", expr, "failed:", err)
			return false
		}
		b, ok := out.Value().(bool)
		return ok && b
	}
	expr_cache.Add(string(expr), fn)
	return fn, nil
}
