package pipeline

import (
	"fmt"
	"path"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
	"github.com/tomehq/tome/common/models"
	"github.com/tomehq/tome/common/pathfilter"
)

// FileChange is one changed file surviving the project's filters,
// carrying the raw patch text the classifier will summarize.
type FileChange struct {
	Path      string
	Additions int
	Deletions int
	Patch     string
}

// ParseDiff parses a unified diff and reduces it to the files worth
// classifying: files under the project's source filters, passing its
// CEL rule, and not pure test changes. The provider already scoped the
// diff to base...head; nothing here calls out.
func ParseDiff(raw string, project *models.Project, rules *pathfilter.RuleEvaluator) ([]FileChange, error) {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(raw)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to parse diff: %w", err)
	}

	filter := pathfilter.New(project.SourcePaths)

	var changes []FileChange
	for _, fd := range fileDiffs {
		p := changedPath(fd)
		if p == "" {
			continue
		}
		if !filter.Empty() && !filter.Match(p) {
			continue
		}
		if isTestFile(p) {
			continue
		}

		added, deleted, body := hunkStats(fd)
		if added == 0 && deleted == 0 {
			// Mode changes and renames with no content change carry
			// no documentation signal.
			continue
		}

		if project.ClassifyRule != "" {
			keep, err := rules.Evaluate(project.ClassifyRule, pathfilter.ChangedFile{
				Path:      p,
				Additions: added,
				Deletions: deleted,
			})
			if err != nil {
				return nil, fmt.Errorf("classify rule failed on %s: %w", p, err)
			}
			if !keep {
				continue
			}
		}

		changes = append(changes, FileChange{
			Path:      p,
			Additions: added,
			Deletions: deleted,
			Patch:     body,
		})
	}

	return changes, nil
}

// GroupChanges splits changes into classification batches of at most
// limit files, truncating each batch's patch text to maxBytes so a
// giant diff cannot blow the prompt.
func GroupChanges(changes []FileChange, limit, maxBytes int) [][]FileChange {
	if limit < 1 {
		limit = 1
	}

	var groups [][]FileChange
	for start := 0; start < len(changes); start += limit {
		end := start + limit
		if end > len(changes) {
			end = len(changes)
		}

		group := make([]FileChange, end-start)
		copy(group, changes[start:end])

		budget := maxBytes
		for i := range group {
			if len(group[i].Patch) > budget {
				group[i].Patch = group[i].Patch[:budget] + "\n[truncated]"
			}
			budget -= len(group[i].Patch)
			if budget < 0 {
				budget = 0
			}
		}

		groups = append(groups, group)
	}

	return groups
}

// changedPath returns the post-change path of a file diff, preferring
// the new name so renames and creations point at what exists at head.
func changedPath(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	if name == "" || name == "/dev/null" {
		return ""
	}
	// git diffs prefix names with a/ and b/
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		name = name[2:]
	}
	return name
}

func hunkStats(fd *diff.FileDiff) (added, deleted int, body string) {
	var b strings.Builder
	for _, hunk := range fd.Hunks {
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				added++
			case strings.HasPrefix(line, "-"):
				deleted++
			}
		}
		b.Write(hunk.Body)
	}
	return added, deleted, b.String()
}

// isTestFile reports whether a path is a pure test change, which never
// warrants user-facing documentation.
func isTestFile(p string) bool {
	base := path.Base(p)
	if strings.HasPrefix(base, "test_") || strings.Contains(base, "_test.") {
		return true
	}
	if strings.Contains(base, ".spec.") || strings.Contains(base, ".test.") {
		return true
	}
	for _, seg := range strings.Split(path.Dir(p), "/") {
		if seg == "test" || seg == "tests" || seg == "__tests__" || seg == "testdata" {
			return true
		}
	}
	return false
}
