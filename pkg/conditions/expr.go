package conditions

import (
	"fmt"
	"sync"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// programCache keeps compiled expr programs; compiled programs are safe to
// share between goroutines.
type programCache struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newProgramCache() *programCache {
	return &programCache{cache: make(map[string]*vm.Program)}
}

func (c *programCache) get(source string, env map[string]any) (*vm.Program, error) {
	c.mu.RLock()
	program, ok := c.cache[source]
	c.mu.RUnlock()

	if ok {
		return program, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if program, ok := c.cache[source]; ok {
		return program, nil
	}

	program, err := expr.Compile(source,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: compile %q: %w", ErrMalformedClause, source, err)
	}

	c.cache[source] = program

	return program, nil
}

// evaluateExpr runs the clause value as a boolean expression over the whole
// execution context.
func (e *Evaluator) evaluateExpr(clause *models.Clause, data map[string]any) (bool, error) {
	source, ok := clause.Value.(string)
	if !ok || source == "" {
		return false, fmt.Errorf("%w: expr needs an expression", ErrMalformedClause)
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	program, err := e.programs.get(source, env)
	if err != nil {
		return false, err
	}

	out, err := vm.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("run %q: %w", source, err)
	}

	passed, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q did not produce a boolean", ErrMalformedClause, source)
	}

	return passed, nil
}
