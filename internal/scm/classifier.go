// Package scm classifies source-control work (PRs, commits) into the
// tenant-defined classes defect, deployment, release and hotfix, using
// the rule expressions stored on a velocity profile.
package scm

import (
	"context"
	"fmt"

	celgo "github.com/google/cel-go/cel"

	"velo/internal/constants"
	"velo/internal/logger"
	"velo/pkg/cel"
	pkgerrors "velo/pkg/errors"
)

// classOrder fixes evaluation order so classification is deterministic
// when an item satisfies more than one rule.
var classOrder = []string{
	constants.SCMClassDefect,
	constants.SCMClassDeployment,
	constants.SCMClassRelease,
	constants.SCMClassHotfix,
}

type Classifier struct {
	evaluator *cel.Evaluator
	programs  map[string]celgo.Program
	logger    logger.Logger
}

// NewClassifier compiles the per-class rules of one profile. Unknown
// class names and non-boolean rules are rejected up front.
func NewClassifier(evaluator *cel.Evaluator, rules map[string]string, log logger.Logger) (*Classifier, error) {
	programs := make(map[string]celgo.Program, len(rules))
	for class, expression := range rules {
		if !knownClass(class) {
			return nil, pkgerrors.ErrValidation.WithDetail("message",
				fmt.Sprintf("unknown SCM classification class %q", class))
		}
		program, err := evaluator.Compile(expression)
		if err != nil {
			return nil, pkgerrors.ErrValidation.WithCause(err).WithDetail("message",
				fmt.Sprintf("invalid classification rule for class %q", class))
		}
		programs[class] = program
	}

	return &Classifier{
		evaluator: evaluator,
		programs:  programs,
		logger:    log,
	}, nil
}

// Classify returns the first class whose rule matches the item, or ""
// when none do. A rule that fails to evaluate is skipped: a broken rule
// must not abort an aggregate request.
func (c *Classifier) Classify(ctx context.Context, id string, fields map[string]interface{}, labels []string) string {
	for _, class := range classOrder {
		program, ok := c.programs[class]
		if !ok {
			continue
		}
		matched, err := c.evaluator.Evaluate(ctx, program, id, fields, labels)
		if err != nil {
			c.logger.WarnwCtx(ctx, "Classification rule evaluation failed",
				"class", class,
				"item_id", id,
				"error", err,
			)
			continue
		}
		if matched {
			return class
		}
	}
	return ""
}

// ValidateRules checks a rule set without building a classifier, for
// profile-write validation.
func ValidateRules(evaluator *cel.Evaluator, rules map[string]string) error {
	for class, expression := range rules {
		if !knownClass(class) {
			return pkgerrors.ErrValidation.WithDetail("message",
				fmt.Sprintf("unknown SCM classification class %q", class))
		}
		if err := evaluator.ValidateRule(expression); err != nil {
			return pkgerrors.ErrValidation.WithCause(err).WithDetail("message",
				fmt.Sprintf("invalid classification rule for class %q", class))
		}
	}
	return nil
}

func knownClass(class string) bool {
	for _, known := range classOrder {
		if class == known {
			return true
		}
	}
	return false
}
