package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tomehq/tome/common/faults"
	"github.com/tomehq/tome/common/logger"
	"github.com/tomehq/tome/common/models"
)

// Generator drafts replacement documentation for detected gaps, one
// generation call per gap.
type Generator struct {
	gateway       TextGenerator
	maxDocContext int
	maxPatchBytes int
	log           *logger.Logger
}

// GeneratorOpts contains options for creating a Generator
type GeneratorOpts struct {
	Gateway       TextGenerator
	MaxDocContext int
	MaxPatchBytes int
	Logger        *logger.Logger
}

// NewGenerator creates a new doc generator
func NewGenerator(opts *GeneratorOpts) *Generator {
	return &Generator{
		gateway:       opts.Gateway,
		maxDocContext: opts.MaxDocContext,
		maxPatchBytes: opts.MaxPatchBytes,
		log:           opts.Logger,
	}
}

// Generate drafts a patch per non-ambiguous gap. A gap whose draft
// fails validation gets one stricter retry and is then skipped; a job
// where every gap fails still publishes nothing but is not a pipeline
// failure. Ambiguous gaps are surfaced for human review, never drafted.
// Retryable infrastructure errors propagate to the stage retry loop.
func (g *Generator) Generate(ctx context.Context, gaps []*models.Gap, docs map[string]string) ([]*models.DraftPatch, error) {
	var patches []*models.DraftPatch

	for _, gap := range gaps {
		if gap.Kind == models.GapAmbiguous {
			continue
		}

		content, err := g.draft(ctx, gap, docs[gap.DocPath], false)
		if err != nil && faults.Is(err, faults.KindMalformedResponse) {
			g.log.Warn("retrying doc draft with stricter prompt",
				"gap_id", gap.GapID, "error", err)
			content, err = g.draft(ctx, gap, docs[gap.DocPath], true)
		}
		if err != nil {
			if faults.Is(err, faults.KindMalformedResponse) {
				g.log.Warn("skipping gap after repeated invalid draft", "gap_id", gap.GapID)
				continue
			}
			return nil, err
		}

		patches = append(patches, &models.DraftPatch{
			PatchID: uuid.New(),
			GapID:   gap.GapID,
			DocPath: gap.DocPath,
			Content: content,
		})
	}

	return patches, nil
}

func (g *Generator) draft(ctx context.Context, gap *models.Gap, current string, strict bool) (string, error) {
	var b strings.Builder
	b.WriteString("You maintain project documentation. Write the markdown for the doc file below\n")
	b.WriteString("so it covers the described change. Keep the existing tone and heading style.\n")
	b.WriteString("Respond with the complete new file content only, no commentary.\n")
	if strict {
		fmt.Fprintf(&b, "The content must be non-empty markdown under %d bytes.\n", g.maxPatchBytes)
	}
	fmt.Fprintf(&b, "\nFile: %s\n", gap.DocPath)
	if gap.Section != "" {
		fmt.Fprintf(&b, "Section needing attention: %s\n", gap.Section)
	}
	fmt.Fprintf(&b, "Gap (%s): %s\n", gap.Kind, gap.Description)

	if current != "" {
		sample := current
		if len(sample) > g.maxDocContext {
			sample = sample[:g.maxDocContext]
		}
		fmt.Fprintf(&b, "\nCurrent content:\n%s\n", sample)
	} else {
		b.WriteString("\nThe file does not exist yet; write it from scratch.\n")
	}

	content, err := g.gateway.Generate(ctx, b.String(), false)
	if err != nil {
		return "", err
	}

	content = strings.TrimSpace(stripFences(content))
	if content == "" {
		return "", faults.New(faults.KindMalformedResponse, "generate: empty draft")
	}
	if len(content) > g.maxPatchBytes {
		return "", faults.New(faults.KindMalformedResponse,
			fmt.Sprintf("generate: draft exceeds %d bytes", g.maxPatchBytes))
	}

	return content, nil
}
