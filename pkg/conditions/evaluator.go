// Package conditions evaluates the clauses of condition nodes against an
// execution context.
package conditions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/engageflow/pkg/metrics"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/template"
)

// DefaultOracleTimeout bounds a single ai_semantic call.
const DefaultOracleTimeout = 5 * time.Second

const (
	OperatorEquals         = "equals"
	OperatorNotEquals      = "not_equals"
	OperatorContains       = "contains"
	OperatorNotContains    = "not_contains"
	OperatorGreaterThan    = "gt"
	OperatorGreaterOrEqual = "gte"
	OperatorLessThan       = "lt"
	OperatorLessOrEqual    = "lte"
	OperatorIn             = "in"
	OperatorMatchesKeyword = "matches_keyword"
	OperatorExists         = "exists"
	OperatorExpr           = "expr"
	OperatorAISemantic     = "ai_semantic"
)

var (
	ErrUnknownCombination = errors.New("unknown combination operator")
	ErrUnknownOperator    = errors.New("unknown clause operator")
	ErrMalformedClause    = errors.New("malformed clause")
)

// Outcome is the result of a condition node. ClauseID names the clause that
// decided a passing OR node.
type Outcome struct {
	Passed   bool
	ClauseID string
}

type Option func(*Evaluator)

// WithOracle enables ai_semantic clauses.
func WithOracle(oracle Oracle) Option {
	return func(e *Evaluator) {
		e.oracle = oracle
	}
}

func WithOracleTimeout(timeout time.Duration) Option {
	return func(e *Evaluator) {
		if timeout > 0 {
			e.oracleTimeout = timeout
		}
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(e *Evaluator) {
		e.metrics = collector
	}
}

type Evaluator struct {
	logger        *slog.Logger
	oracle        Oracle
	oracleTimeout time.Duration
	metrics       *metrics.Collector
	programs      *programCache
}

func NewEvaluator(logger *slog.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		logger:        logger.With("module", "conditions"),
		oracleTimeout: DefaultOracleTimeout,
		programs:      newProgramCache(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Evaluate combines the clauses of config. AND stops at the first false
// clause and OR at the first true one. An empty AND passes and an empty OR
// fails. Clause problems evaluate to false; only an unknown combination
// operator is returned as an error.
func (e *Evaluator) Evaluate(ctx context.Context, config *models.ConditionConfig, data map[string]any) (Outcome, error) {
	if config == nil {
		return Outcome{}, fmt.Errorf("%w: missing condition configuration", ErrMalformedClause)
	}

	switch config.CombinationOperator {
	case models.CombinationAnd:
		for i := range config.Clauses {
			if !e.clause(ctx, &config.Clauses[i], data) {
				return Outcome{Passed: false}, nil
			}
		}

		return Outcome{Passed: true}, nil
	case models.CombinationOr:
		for i := range config.Clauses {
			if e.clause(ctx, &config.Clauses[i], data) {
				return Outcome{Passed: true, ClauseID: config.Clauses[i].ID}, nil
			}
		}

		return Outcome{Passed: false}, nil
	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownCombination, config.CombinationOperator)
	}
}

func (e *Evaluator) clause(ctx context.Context, clause *models.Clause, data map[string]any) bool {
	passed, err := e.evaluateClause(ctx, clause, data)
	if err != nil {
		e.logger.WarnContext(ctx, "Clause evaluated as false",
			"clause_id", clause.ID,
			"field", clause.Field,
			"operator", clause.Operator,
			"error", err)

		e.metrics.ClauseEvaluated(clause.Operator, false)

		return false
	}

	if clause.Negate {
		passed = !passed
	}

	e.metrics.ClauseEvaluated(clause.Operator, passed)

	return passed
}

func (e *Evaluator) evaluateClause(ctx context.Context, clause *models.Clause, data map[string]any) (bool, error) {
	switch clause.Operator {
	case OperatorExpr:
		return e.evaluateExpr(clause, data)
	case OperatorExists:
		value, err := template.Resolve(data, clause.Field)
		if err != nil {
			return false, nil //nolint:nilerr // an unresolved path simply does not exist
		}

		return value != nil, nil
	}

	actual, err := template.Resolve(data, clause.Field)
	if err != nil {
		return false, err
	}

	switch clause.Operator {
	case OperatorEquals:
		return equal(actual, clause.Value), nil
	case OperatorNotEquals:
		return !equal(actual, clause.Value), nil
	case OperatorContains:
		return contains(actual, clause.Value), nil
	case OperatorNotContains:
		return !contains(actual, clause.Value), nil
	case OperatorGreaterThan, OperatorGreaterOrEqual, OperatorLessThan, OperatorLessOrEqual:
		return compare(clause.Operator, actual, clause.Value)
	case OperatorIn:
		return in(actual, clause.Value)
	case OperatorMatchesKeyword:
		keywords, err := stringList(clause.Value)
		if err != nil {
			return false, err
		}

		return MatchesKeyword(template.Stringify(actual), keywords), nil
	case OperatorAISemantic:
		return e.evaluateSemantic(ctx, actual, clause.Value)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, clause.Operator)
	}
}

func (e *Evaluator) evaluateSemantic(ctx context.Context, actual, criterion any) (bool, error) {
	if e.oracle == nil {
		return false, errors.New("ai_semantic clause without an oracle")
	}

	prompt, ok := criterion.(string)
	if !ok || prompt == "" {
		return false, fmt.Errorf("%w: ai_semantic needs a criterion", ErrMalformedClause)
	}

	ctx, cancel := context.WithTimeout(ctx, e.oracleTimeout)
	defer cancel()

	passed, err := e.oracle.Judge(ctx, template.Stringify(actual), prompt)
	if err != nil {
		return false, fmt.Errorf("oracle: %w", err)
	}

	return passed, nil
}
