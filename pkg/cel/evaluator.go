// Package cel evaluates the boolean classification expressions a tenant
// attaches to its SCM fields (branch, title, labels), used to tag PRs
// and commits as defect/deployment/release/hotfix work.
package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

type Evaluator struct {
	env *cel.Env
}

// NewEvaluator builds the environment the classification rules compile
// against: the item id plus its SCM source fields and labels.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("fields", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("labels", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// ValidateRule compiles the expression and requires a bool result, so a
// bad rule is rejected at profile-write time, not at calculation time.
func (e *Evaluator) ValidateRule(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("classification rule must return bool, got %v", ast.OutputType())
	}
	return nil
}

// Compile prepares a rule for repeated evaluation across a population.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("classification rule must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return program, nil
}

// Evaluate runs a compiled rule against one item's SCM fields.
func (e *Evaluator) Evaluate(ctx context.Context, program cel.Program, id string, fields map[string]interface{}, labels []string) (bool, error) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	if labels == nil {
		labels = []string{}
	}

	result, _, err := program.ContextEval(ctx, map[string]interface{}{
		"id":     id,
		"fields": fields,
		"labels": labels,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}
	return boolVal, nil
}
