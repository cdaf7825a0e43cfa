package pathfilter

import (
	"path"
	"strings"
)

// Filter matches repository paths against a project's configured path
// filters. Matching is case-sensitive. An entry ending in '/' is a
// recursive directory prefix; an entry containing glob metacharacters is
// matched with path.Match per segment, where a '**' segment matches any
// number of segments; anything else is an exact path.
type Filter struct {
	patterns []string
}

// New creates a filter from configured patterns. Empty and duplicate
// entries are dropped.
func New(patterns []string) *Filter {
	cleaned := make([]string, 0, len(patterns))
	seen := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		cleaned = append(cleaned, p)
	}
	return &Filter{patterns: cleaned}
}

// Empty reports whether the filter has no patterns. Match on an empty
// filter returns false; callers that want a project with no source
// filter to scan everything check Empty and skip the filter.
func (f *Filter) Empty() bool {
	return len(f.patterns) == 0
}

// Match reports whether the path satisfies any configured pattern
func (f *Filter) Match(p string) bool {
	p = strings.TrimPrefix(p, "/")
	for _, pattern := range f.patterns {
		if matchOne(pattern, p) {
			return true
		}
	}
	return false
}

func matchOne(pattern, p string) bool {
	if strings.HasSuffix(pattern, "/") {
		return strings.HasPrefix(p, pattern)
	}
	if strings.ContainsAny(pattern, "*?[") {
		return matchGlob(pattern, p)
	}
	return pattern == p
}

// matchGlob matches segment by segment so 'docs/*.md' does not cross
// directories while 'src/**/handler.go' does.
func matchGlob(pattern, p string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(p, "/"))
}

func matchSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}

	if pat[0] == "**" {
		for skip := 0; skip <= len(segs); skip++ {
			if matchSegments(pat[1:], segs[skip:]) {
				return true
			}
		}
		return false
	}

	if len(segs) == 0 {
		return false
	}

	ok, err := path.Match(pat[0], segs[0])
	if err != nil || !ok {
		return false
	}

	return matchSegments(pat[1:], segs[1:])
}
