package pipeline

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomehq/tome/common/models"
	"github.com/tomehq/tome/common/pathfilter"
)

// unifiedDiff builds a one-hunk file diff adding and removing lines
func unifiedDiff(path string, added, deleted int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", path, path)
	fmt.Fprintf(&b, "@@ -1,%d +1,%d @@\n", deleted+1, added+1)
	b.WriteString(" context line\n")
	for i := 0; i < deleted; i++ {
		fmt.Fprintf(&b, "-removed %d\n", i)
	}
	for i := 0; i < added; i++ {
		fmt.Fprintf(&b, "+added %d\n", i)
	}
	return b.String()
}

func testProject(sourcePaths []string, rule string) *models.Project {
	return &models.Project{
		SourcePaths:  sourcePaths,
		ClassifyRule: rule,
		TargetBranch: "main",
	}
}

func TestParseDiff_CountsAndPatch(t *testing.T) {
	raw := unifiedDiff("src/server.go", 3, 1)

	changes, err := ParseDiff(raw, testProject(nil, ""), pathfilter.NewRuleEvaluator())
	require.NoError(t, err)
	require.Len(t, changes, 1)

	assert.Equal(t, "src/server.go", changes[0].Path)
	assert.Equal(t, 3, changes[0].Additions)
	assert.Equal(t, 1, changes[0].Deletions)
	assert.Contains(t, changes[0].Patch, "+added 0")
}

func TestParseDiff_SourcePathFilter(t *testing.T) {
	raw := unifiedDiff("src/server.go", 2, 0) + unifiedDiff("scripts/deploy.sh", 2, 0)

	changes, err := ParseDiff(raw, testProject([]string{"src/"}, ""), pathfilter.NewRuleEvaluator())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "src/server.go", changes[0].Path)
}

func TestParseDiff_EmptyFilterKeepsEverything(t *testing.T) {
	raw := unifiedDiff("src/server.go", 1, 0) + unifiedDiff("scripts/deploy.sh", 1, 0)

	changes, err := ParseDiff(raw, testProject(nil, ""), pathfilter.NewRuleEvaluator())
	require.NoError(t, err)
	assert.Len(t, changes, 2)
}

func TestParseDiff_SkipsTestFiles(t *testing.T) {
	raw := unifiedDiff("src/server.go", 1, 0) +
		unifiedDiff("src/server_test.go", 5, 0) +
		unifiedDiff("tests/integration.py", 5, 0) +
		unifiedDiff("src/test_handlers.py", 5, 0) +
		unifiedDiff("ui/app.spec.ts", 5, 0)

	changes, err := ParseDiff(raw, testProject(nil, ""), pathfilter.NewRuleEvaluator())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "src/server.go", changes[0].Path)
}

func TestParseDiff_ClassifyRule(t *testing.T) {
	raw := unifiedDiff("src/big.go", 12, 3) + unifiedDiff("src/small.go", 1, 0)

	changes, err := ParseDiff(raw, testProject(nil, "additions + deletions > 10"), pathfilter.NewRuleEvaluator())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "src/big.go", changes[0].Path)
}

func TestParseDiff_BadRuleFails(t *testing.T) {
	raw := unifiedDiff("src/server.go", 1, 0)

	_, err := ParseDiff(raw, testProject(nil, "path.nope("), pathfilter.NewRuleEvaluator())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classify rule failed")
}

func TestGroupChanges_SplitsByLimit(t *testing.T) {
	changes := []FileChange{
		{Path: "a.go", Patch: "aa"},
		{Path: "b.go", Patch: "bb"},
		{Path: "c.go", Patch: "cc"},
	}

	groups := GroupChanges(changes, 2, 1024)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 1)
}

func TestGroupChanges_TruncatesToBudget(t *testing.T) {
	changes := []FileChange{
		{Path: "a.go", Patch: strings.Repeat("x", 100)},
		{Path: "b.go", Patch: strings.Repeat("y", 100)},
	}

	groups := GroupChanges(changes, 10, 120)
	require.Len(t, groups, 1)

	first := groups[0][0].Patch
	second := groups[0][1].Patch
	assert.Len(t, strings.TrimSuffix(first, "\n[truncated]"), 100)
	assert.True(t, strings.HasSuffix(second, "[truncated]"))
	assert.LessOrEqual(t, len(strings.TrimSuffix(second, "\n[truncated]")), 20)
}

func TestGroupChanges_Empty(t *testing.T) {
	assert.Empty(t, GroupChanges(nil, 5, 1024))
}
