package pathfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_DirectoryPrefix(t *testing.T) {
	f := New([]string{"src/"})

	assert.True(t, f.Match("src/server.go"))
	assert.True(t, f.Match("src/deep/nested/handler.go"))
	assert.False(t, f.Match("srcother/file.go"))
	assert.False(t, f.Match("docs/readme.md"))
}

func TestFilter_ExactPath(t *testing.T) {
	f := New([]string{"Makefile"})

	assert.True(t, f.Match("Makefile"))
	assert.False(t, f.Match("sub/Makefile"))
	assert.False(t, f.Match("Makefile.bak"))
}

func TestFilter_GlobSingleSegment(t *testing.T) {
	f := New([]string{"docs/*.md"})

	assert.True(t, f.Match("docs/intro.md"))
	assert.False(t, f.Match("docs/guide/advanced.md"), "single * must not cross directories")
	assert.False(t, f.Match("docs/intro.txt"))
}

func TestFilter_GlobDoubleStar(t *testing.T) {
	f := New([]string{"src/**/handler.go"})

	assert.True(t, f.Match("src/api/handler.go"))
	assert.True(t, f.Match("src/a/b/c/handler.go"))
	assert.True(t, f.Match("src/handler.go"), "** matches zero segments")
	assert.False(t, f.Match("lib/api/handler.go"))
}

func TestFilter_LeadingSlashNormalized(t *testing.T) {
	f := New([]string{"docs/"})

	assert.True(t, f.Match("/docs/intro.md"))
}

func TestFilter_EmptyMatchesNothing(t *testing.T) {
	f := New(nil)

	require.True(t, f.Empty())
	assert.False(t, f.Match("anything"))
	assert.False(t, f.Match(""))
}

func TestFilter_DropsBlankAndDuplicateEntries(t *testing.T) {
	f := New([]string{" ", "", "src/", "src/"})

	require.False(t, f.Empty())
	assert.True(t, f.Match("src/main.go"))
}

func TestFilter_MultiplePatterns(t *testing.T) {
	f := New([]string{"docs/", "README.md", "*.rst"})

	assert.True(t, f.Match("docs/any.md"))
	assert.True(t, f.Match("README.md"))
	assert.True(t, f.Match("index.rst"))
	assert.False(t, f.Match("src/main.go"))
}
