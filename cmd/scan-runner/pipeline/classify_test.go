package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomehq/tome/common/faults"
	"github.com/tomehq/tome/common/logger"
)

// fakeGenerator returns canned responses in order, then repeats the last
type fakeGenerator struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, structured bool) (string, error) {
	f.prompts = append(f.prompts, prompt)
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.responses[i], err
}

func pipelineLog() *logger.Logger {
	return logger.New("error", "text")
}

func oneGroup(paths ...string) [][]FileChange {
	var group []FileChange
	for _, p := range paths {
		group = append(group, FileChange{Path: p, Additions: 1, Patch: "+x"})
	}
	return [][]FileChange{group}
}

func TestClassify_ParsesSummaries(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		`[{"file":"src/a.go","change_type":"changed","summary":"retry added","details":"retries now use backoff"}]`,
	}}
	c := NewClassifier(gen, pipelineLog())

	summaries, err := c.Classify(context.Background(), oneGroup("src/a.go"))
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "src/a.go", summaries[0].File)
	assert.Equal(t, "retry added", summaries[0].Summary)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "--- src/a.go (+1/-0)")
}

func TestClassify_StripsCodeFences(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		"```json\n[{\"file\":\"src/a.go\",\"change_type\":\"added\",\"summary\":\"s\",\"details\":\"d\"}]\n```",
	}}
	c := NewClassifier(gen, pipelineLog())

	summaries, err := c.Classify(context.Background(), oneGroup("src/a.go"))
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestClassify_EmptyArrayMeansNothingRelevant(t *testing.T) {
	gen := &fakeGenerator{responses: []string{`[]`}}
	c := NewClassifier(gen, pipelineLog())

	summaries, err := c.Classify(context.Background(), oneGroup("src/a.go"))
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestClassify_AcceptsObjectEnvelope(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		`{"changes":[{"file":"src/a.go","change_type":"changed","summary":"s","details":"d"}]}`,
	}}
	c := NewClassifier(gen, pipelineLog())

	summaries, err := c.Classify(context.Background(), oneGroup("src/a.go"))
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "src/a.go", summaries[0].File)
	assert.Equal(t, 1, gen.calls, "an enveloped array is not a malformed response")
}

func TestDecodeSummaries(t *testing.T) {
	bare, err := decodeSummaries(`[{"file":"a","summary":"s"}]`)
	require.NoError(t, err)
	assert.Len(t, bare, 1)

	wrapped, err := decodeSummaries(`{"results":[{"file":"a","summary":"s"}]}`)
	require.NoError(t, err)
	assert.Len(t, wrapped, 1)

	empty, err := decodeSummaries(`{"changes":[]}`)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = decodeSummaries(`{"note":"nothing here"}`)
	require.Error(t, err)

	_, err = decodeSummaries(`{"a":[],"b":[]}`)
	require.Error(t, err)

	_, err = decodeSummaries(`not json at all`)
	require.Error(t, err)
}

func TestClassify_DropsHallucinatedFiles(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		`[{"file":"src/a.go","change_type":"changed","summary":"real","details":"d"},
		  {"file":"src/invented.go","change_type":"changed","summary":"fake","details":"d"}]`,
	}}
	c := NewClassifier(gen, pipelineLog())

	summaries, err := c.Classify(context.Background(), oneGroup("src/a.go"))
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "src/a.go", summaries[0].File)
}

func TestClassify_MalformedRetriedOnce(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		"here is your json: nope",
		`[{"file":"src/a.go","change_type":"changed","summary":"s","details":"d"}]`,
	}}
	c := NewClassifier(gen, pipelineLog())

	summaries, err := c.Classify(context.Background(), oneGroup("src/a.go"))
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
	assert.Equal(t, 2, gen.calls)
}

func TestClassify_RepeatedMalformedSkipsGroup(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"garbage", "still garbage"}}
	c := NewClassifier(gen, pipelineLog())

	summaries, err := c.Classify(context.Background(), oneGroup("src/a.go"))
	require.NoError(t, err)
	assert.Empty(t, summaries)
	assert.Equal(t, 2, gen.calls)
}

func TestClassify_InfrastructureErrorPropagates(t *testing.T) {
	rateLimited := faults.New(faults.KindRateLimited, "backend.test")
	gen := &fakeGenerator{responses: []string{""}, errs: []error{rateLimited}}
	c := NewClassifier(gen, pipelineLog())

	_, err := c.Classify(context.Background(), oneGroup("src/a.go"))
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindRateLimited))
	assert.Equal(t, 1, gen.calls, "infrastructure errors are the stage loop's to retry")
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `[]`, stripFences("```json\n[]\n```"))
	assert.Equal(t, `[]`, stripFences("```\n[]\n```"))
	assert.Equal(t, `[]`, stripFences("  []  "))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
}
