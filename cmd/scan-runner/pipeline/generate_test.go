package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomehq/tome/common/faults"
	"github.com/tomehq/tome/common/models"
)

func newTestGenerator(gen TextGenerator) *Generator {
	return NewGenerator(&GeneratorOpts{
		Gateway:       gen,
		MaxDocContext: 200,
		MaxPatchBytes: 500,
		Logger:        pipelineLog(),
	})
}

func staleGap() *models.Gap {
	return &models.Gap{
		GapID:       uuid.New(),
		JobID:       uuid.New(),
		Kind:        models.GapStale,
		DocPath:     "docs/api.md",
		Section:     "Authentication",
		Description: "token refresh behavior changed [changed src/auth.go]",
	}
}

func TestGenerate_DraftsPatchPerGap(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"# API\n\nUpdated auth docs.\n"}}
	g := newTestGenerator(gen)

	gap := staleGap()
	docs := map[string]string{"docs/api.md": "# API\n\nOld auth docs.\n"}

	patches, err := g.Generate(context.Background(), []*models.Gap{gap}, docs)
	require.NoError(t, err)
	require.Len(t, patches, 1)

	patch := patches[0]
	assert.Equal(t, gap.GapID, patch.GapID)
	assert.Equal(t, "docs/api.md", patch.DocPath)
	assert.Equal(t, "# API\n\nUpdated auth docs.", patch.Content)
	assert.NotEqual(t, uuid.Nil, patch.PatchID)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "File: docs/api.md")
	assert.Contains(t, gen.prompts[0], "Section needing attention: Authentication")
	assert.Contains(t, gen.prompts[0], "Old auth docs.")
}

func TestGenerate_MissingGapPromptsFromScratch(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"# New Doc\n"}}
	g := newTestGenerator(gen)

	gap := staleGap()
	gap.Kind = models.GapMissing
	gap.Section = ""
	gap.DocPath = "docs/new.md"

	patches, err := g.Generate(context.Background(), []*models.Gap{gap}, nil)
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.Contains(t, gen.prompts[0], "does not exist yet")
}

func TestGenerate_SkipsAmbiguousGaps(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"should never be called"}}
	g := newTestGenerator(gen)

	gap := staleGap()
	gap.Kind = models.GapAmbiguous

	patches, err := g.Generate(context.Background(), []*models.Gap{gap}, nil)
	require.NoError(t, err)
	assert.Empty(t, patches)
	assert.Zero(t, gen.calls)
}

func TestGenerate_EmptyDraftRetriedStricter(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"", "# Filled In\n"}}
	g := newTestGenerator(gen)

	patches, err := g.Generate(context.Background(), []*models.Gap{staleGap()}, nil)
	require.NoError(t, err)
	require.Len(t, patches, 1)

	require.Len(t, gen.prompts, 2)
	assert.NotContains(t, gen.prompts[0], "must be non-empty")
	assert.Contains(t, gen.prompts[1], "must be non-empty markdown under 500 bytes")
}

func TestGenerate_OversizeDraftSkippedAfterRetry(t *testing.T) {
	big := strings.Repeat("x", 600)
	gen := &fakeGenerator{responses: []string{big, big}}
	g := newTestGenerator(gen)

	patches, err := g.Generate(context.Background(), []*models.Gap{staleGap()}, nil)
	require.NoError(t, err)
	assert.Empty(t, patches)
	assert.Equal(t, 2, gen.calls)
}

func TestGenerate_InfrastructureErrorPropagates(t *testing.T) {
	gen := &fakeGenerator{
		responses: []string{""},
		errs:      []error{faults.New(faults.KindTimeout, "backend.test")},
	}
	g := newTestGenerator(gen)

	_, err := g.Generate(context.Background(), []*models.Gap{staleGap()}, nil)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindTimeout))
	assert.Equal(t, 1, gen.calls)
}

func TestGenerate_DocContextTruncated(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"# ok\n"}}
	g := newTestGenerator(gen)

	long := strings.Repeat("y", 1000)
	docs := map[string]string{"docs/api.md": long}

	_, err := g.Generate(context.Background(), []*models.Gap{staleGap()}, docs)
	require.NoError(t, err)
	assert.NotContains(t, gen.prompts[0], strings.Repeat("y", 201))
}
