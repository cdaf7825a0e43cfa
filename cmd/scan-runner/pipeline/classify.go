package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tomehq/tome/common/faults"
	"github.com/tomehq/tome/common/logger"
	"github.com/tomehq/tome/common/models"
)

// Classifier turns filtered file changes into doc-relevant change
// summaries via one generation call per group.
type Classifier struct {
	gateway TextGenerator
	log     *logger.Logger
}

// NewClassifier creates a new classifier
func NewClassifier(gateway TextGenerator, log *logger.Logger) *Classifier {
	return &Classifier{gateway: gateway, log: log}
}

const classifyPrompt = `You review source code diffs and decide which changes affect
user-facing behavior that documentation should describe.

For each file below, decide whether the change is doc-relevant. Ignore pure
refactors, formatting, comment-only edits, and dependency bumps. Respond with a
JSON array, one object per doc-relevant file:
[{"file": "<path>", "change_type": "added|changed|removed", "summary": "<one sentence>", "details": "<what a doc writer needs to know>"}]
Respond with [] if nothing is doc-relevant. If your output must be a JSON
object, wrap the array as {"changes": [...]}. JSON only, no prose.

`

// Classify summarizes every group. A malformed generation response is
// retried once for that group; a second failure skips the group rather
// than failing the job, so partial classification still progresses.
// Retryable infrastructure errors propagate to the stage retry loop.
func (c *Classifier) Classify(ctx context.Context, groups [][]FileChange) ([]models.ChangeSummary, error) {
	var out []models.ChangeSummary

	for i, group := range groups {
		summaries, err := c.classifyGroup(ctx, group)
		if err != nil {
			if faults.Is(err, faults.KindMalformedResponse) {
				c.log.Warn("retrying malformed classification response", "group", i)
				summaries, err = c.classifyGroup(ctx, group)
			}
			if err != nil {
				if faults.Is(err, faults.KindMalformedResponse) {
					c.log.Warn("skipping group after repeated malformed response",
						"group", i, "files", len(group))
					continue
				}
				return nil, err
			}
		}
		out = append(out, summaries...)
	}

	return out, nil
}

func (c *Classifier) classifyGroup(ctx context.Context, group []FileChange) ([]models.ChangeSummary, error) {
	var b strings.Builder
	b.WriteString(classifyPrompt)
	for _, fc := range group {
		fmt.Fprintf(&b, "--- %s (+%d/-%d)\n%s\n", fc.Path, fc.Additions, fc.Deletions, fc.Patch)
	}

	raw, err := c.gateway.Generate(ctx, b.String(), true)
	if err != nil {
		return nil, err
	}

	summaries, err := decodeSummaries(stripFences(raw))
	if err != nil {
		return nil, faults.Wrap(faults.KindMalformedResponse, "classify",
			fmt.Errorf("undecodable classification response: %w", err))
	}

	// Responses naming files outside the group are hallucinated
	known := make(map[string]bool, len(group))
	for _, fc := range group {
		known[fc.Path] = true
	}
	kept := summaries[:0]
	for _, s := range summaries {
		if known[s.File] {
			kept = append(kept, s)
		}
	}

	return kept, nil
}

// decodeSummaries accepts the bare array the prompt asks for, or the
// object envelope providers produce in native JSON mode, where the
// array sits under a top-level key.
func decodeSummaries(payload string) ([]models.ChangeSummary, error) {
	var summaries []models.ChangeSummary
	arrErr := json.Unmarshal([]byte(payload), &summaries)
	if arrErr == nil {
		return summaries, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, arrErr
	}

	var arr json.RawMessage
	for _, v := range envelope {
		v = bytes.TrimSpace(v)
		if len(v) > 0 && v[0] == '[' {
			if arr != nil {
				return nil, fmt.Errorf("multiple arrays in object envelope")
			}
			arr = v
		}
	}
	if arr == nil {
		return nil, fmt.Errorf("no array in object envelope")
	}

	if err := json.Unmarshal(arr, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// stripFences removes a markdown code fence around a JSON payload.
// Models add them even when told not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
