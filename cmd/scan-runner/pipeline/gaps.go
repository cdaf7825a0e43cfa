package pipeline

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/tomehq/tome/common/models"
)

// coverageThreshold is the term-overlap fraction above which a change
// counts as already documented.
const coverageThreshold = 0.4

// lowCoverage is the floor below which a section is considered to not
// mention the change at all.
const lowCoverage = 0.15

// tieMargin is the max coverage spread within which two sections are
// considered an ambiguous tie.
const tieMargin = 0.05

// GapDetector compares classified change summaries against the current
// documentation. Pure and deterministic: same inputs, same gaps.
type GapDetector struct{}

// NewGapDetector creates a new gap detector
func NewGapDetector() *GapDetector {
	return &GapDetector{}
}

type docSection struct {
	doc     string
	heading string
	terms   map[string]bool
}

// Detect scores every change summary against every doc section by
// stop-word-filtered term overlap. Coverage at or above the threshold
// means documented; below it a gap is emitted:
//
//   - no section reaches lowCoverage: missing
//   - one section partially covers it: stale, pointing at that section
//   - several sections tie: a single ambiguous gap, never one
//     speculative gap per candidate
//
// Returned gaps carry fresh IDs and the given job ID.
func (d *GapDetector) Detect(jobID uuid.UUID, summaries []models.ChangeSummary, docs map[string]string) []*models.Gap {
	sections := splitDocs(docs)

	var gaps []*models.Gap
	for _, change := range summaries {
		terms := extractTerms(change.Summary + " " + change.Details + " " + pathStem(change.File))
		if len(terms) == 0 {
			continue
		}

		best, second := bestSections(terms, sections)
		if best != nil && best.score >= coverageThreshold {
			continue // documented
		}

		gap := &models.Gap{
			GapID:       uuid.New(),
			JobID:       jobID,
			Description: gapDescription(change),
		}

		switch {
		case best == nil || best.score < lowCoverage:
			gap.Kind = models.GapMissing
			gap.DocPath = suggestDocPath(change.File, docs)
			gap.Confidence = 1.0
			if best != nil {
				gap.Confidence = 1.0 - best.score
			}
		case second != nil && second.section.doc != best.section.doc &&
			second.score >= lowCoverage && best.score-second.score < tieMargin:
			gap.Kind = models.GapAmbiguous
			gap.DocPath = best.section.doc
			gap.Section = best.section.heading
			gap.Description = fmt.Sprintf("%s (also matches %s)", gap.Description, second.section.doc)
			gap.Confidence = 0.5
		default:
			gap.Kind = models.GapStale
			gap.DocPath = best.section.doc
			gap.Section = best.section.heading
			gap.Confidence = 1.0 - best.score
		}

		gaps = append(gaps, gap)
	}

	return gaps
}

type scoredSection struct {
	section docSection
	score   float64
}

// bestSections returns the two highest-coverage sections for the change
// terms. Deterministic: ties at equal score resolve by doc path then
// heading.
func bestSections(terms map[string]bool, sections []docSection) (best, second *scoredSection) {
	for i := range sections {
		s := scoredSection{section: sections[i], score: coverage(terms, sections[i].terms)}
		if best == nil || s.score > best.score {
			second = best
			b := s
			best = &b
			continue
		}
		if second == nil || s.score > second.score {
			c := s
			second = &c
		}
	}
	return best, second
}

func coverage(changeTerms, sectionTerms map[string]bool) float64 {
	if len(changeTerms) == 0 {
		return 0
	}
	hits := 0
	for t := range changeTerms {
		if sectionTerms[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(changeTerms))
}

// splitDocs breaks every doc into sections at markdown headings. A doc
// without headings is a single section. Docs are walked in sorted order
// so detection output is stable.
func splitDocs(docs map[string]string) []docSection {
	paths := make([]string, 0, len(docs))
	for p := range docs {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var sections []docSection
	for _, p := range paths {
		heading := ""
		var body strings.Builder

		flush := func() {
			text := body.String()
			if heading != "" || strings.TrimSpace(text) != "" {
				sections = append(sections, docSection{
					doc:     p,
					heading: heading,
					terms:   extractTerms(heading + " " + text),
				})
			}
			body.Reset()
		}

		for _, line := range strings.Split(docs[p], "\n") {
			if strings.HasPrefix(line, "#") {
				flush()
				heading = strings.TrimSpace(strings.TrimLeft(line, "# "))
				continue
			}
			body.WriteString(line)
			body.WriteString("\n")
		}
		flush()
	}

	return sections
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "have": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "this": true, "to": true, "was": true,
	"were": true, "which": true, "will": true, "with": true, "when": true,
	"new": true, "now": true, "added": true, "removed": true, "changed": true,
	"function": true, "method": true, "file": true, "code": true,
}

// extractTerms lowercases, strips punctuation, and drops stop words and
// one-to-two letter fragments.
func extractTerms(s string) map[string]bool {
	terms := make(map[string]bool)
	word := strings.Builder{}

	emit := func() {
		w := word.String()
		word.Reset()
		if len(w) <= 2 || stopWords[w] {
			return
		}
		terms[w] = true
	}

	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			word.WriteRune(r)
		} else {
			emit()
		}
	}
	emit()

	return terms
}

func gapDescription(change models.ChangeSummary) string {
	desc := change.Summary
	if change.Details != "" {
		desc += ": " + change.Details
	}
	return fmt.Sprintf("%s [%s %s]", desc, change.ChangeType, change.File)
}

// suggestDocPath picks where a missing topic should live: alongside the
// existing docs if any, otherwise a conventional docs/ path named after
// the changed file.
func suggestDocPath(file string, docs map[string]string) string {
	var dirs []string
	for p := range docs {
		dirs = append(dirs, path.Dir(p))
	}
	sort.Strings(dirs)

	stem := pathStem(file)
	if len(dirs) > 0 {
		return path.Join(dirs[0], stem+".md")
	}
	return path.Join("docs", stem+".md")
}

func pathStem(p string) string {
	base := path.Base(p)
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base
}
