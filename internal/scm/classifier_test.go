package scm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"velo/internal/logger"
	"velo/pkg/cel"
	pkgerrors "velo/pkg/errors"
)

func newEvaluator(t *testing.T) *cel.Evaluator {
	t.Helper()
	evaluator, err := cel.NewEvaluator()
	require.NoError(t, err)
	return evaluator
}

func TestClassify(t *testing.T) {
	classifier, err := NewClassifier(newEvaluator(t), map[string]string{
		"defect":  `"bug" in labels`,
		"hotfix":  `fields.branch.startsWith("hotfix/")`,
		"release": `fields.branch.startsWith("release/")`,
	}, logger.NopLogger())
	require.NoError(t, err)

	ctx := context.Background()

	assert.Equal(t, "defect", classifier.Classify(ctx, "PR-1",
		map[string]interface{}{"branch": "feature/x"}, []string{"bug"}))

	assert.Equal(t, "hotfix", classifier.Classify(ctx, "PR-2",
		map[string]interface{}{"branch": "hotfix/crash"}, nil))

	assert.Equal(t, "", classifier.Classify(ctx, "PR-3",
		map[string]interface{}{"branch": "feature/y"}, []string{"chore"}))
}

func TestClassifyPrecedenceIsStable(t *testing.T) {
	// An item matching both defect and hotfix always lands in defect.
	classifier, err := NewClassifier(newEvaluator(t), map[string]string{
		"hotfix": `fields.branch.startsWith("hotfix/")`,
		"defect": `"bug" in labels`,
	}, logger.NopLogger())
	require.NoError(t, err)

	got := classifier.Classify(context.Background(), "PR-9",
		map[string]interface{}{"branch": "hotfix/fix"}, []string{"bug"})
	assert.Equal(t, "defect", got)
}

func TestNewClassifierRejectsBadRules(t *testing.T) {
	_, err := NewClassifier(newEvaluator(t), map[string]string{
		"defect": `fields.branch`, // not a bool
	}, logger.NopLogger())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = NewClassifier(newEvaluator(t), map[string]string{
		"feature": `true`,
	}, logger.NopLogger())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestValidateRules(t *testing.T) {
	evaluator := newEvaluator(t)

	assert.NoError(t, ValidateRules(evaluator, map[string]string{
		"deployment": `fields.branch == "main"`,
	}))
	assert.Error(t, ValidateRules(evaluator, map[string]string{
		"deployment": `not valid cel!!!`,
	}))
}
