package scm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomehq/tome/common/faults"
)

type testLogger struct{ t *testing.T }

func (l *testLogger) Info(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[INFO] %s %v", msg, keysAndValues)
}
func (l *testLogger) Error(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[ERROR] %s %v", msg, keysAndValues)
}
func (l *testLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[WARN] %s %v", msg, keysAndValues)
}
func (l *testLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[DEBUG] %s %v", msg, keysAndValues)
}

func newTestClient(t *testing.T, handler http.Handler) (*GitHubClient, *httptest.Server) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGitHubClient(srv.URL, &testLogger{t: t}), srv
}

var target = Target{Owner: "acme", Repo: "widget", Token: "tok"}

func TestCompareDiff_ReturnsRawDiff(t *testing.T) {
	const rawDiff = "diff --git a/x.go b/x.go\n"

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widget/compare/abc...def", r.URL.Path)
		assert.Equal(t, "application/vnd.github.v3.diff", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(rawDiff))
	}))

	diff, err := client.CompareDiff(context.Background(), target, "abc", "def")
	require.NoError(t, err)
	assert.Equal(t, rawDiff, diff)
}

func TestCompareDiff_UnresolvableRangeIsFatal(t *testing.T) {
	for _, status := range []int{404, 422} {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := client.CompareDiff(context.Background(), target, "gone", "def")
		require.Error(t, err)
		assert.True(t, faults.Is(err, faults.KindDiffUnavailable), "status %d", status)
		assert.False(t, faults.Retryable(err))
	}
}

func TestCompareDiff_RateLimitVia403Header(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(403)
	}))

	_, err := client.CompareDiff(context.Background(), target, "a", "b")
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindRateLimited))
	assert.True(t, faults.Retryable(err))
}

func TestCompareDiff_PlainForbiddenIsAuthFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(403)
	}))

	_, err := client.CompareDiff(context.Background(), target, "a", "b")
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindAuthFailed))
}

func TestGetFileContent_DecodesBase64(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "refhead", r.URL.Query().Get("ref"))
		json.NewEncoder(w).Encode(map[string]string{
			"type":     "file",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte("# Title\nbody\n")),
		})
	}))

	content, err := client.GetFileContent(context.Background(), target, "docs/a.md", "refhead")
	require.NoError(t, err)
	assert.Equal(t, "# Title\nbody\n", content)
}

func TestGetFileContent_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))

	_, err := client.GetFileContent(context.Background(), target, "missing.md", "ref")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestListDocFiles_WalksDirectoriesAndFilters(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/widget/contents/docs":
			json.NewEncoder(w).Encode([]map[string]string{
				{"type": "file", "name": "intro.md", "path": "docs/intro.md"},
				{"type": "file", "name": "logo.png", "path": "docs/logo.png"},
				{"type": "dir", "name": "guide", "path": "docs/guide"},
			})
		case "/repos/acme/widget/contents/docs/guide":
			json.NewEncoder(w).Encode([]map[string]string{
				{"type": "file", "name": "advanced.rst", "path": "docs/guide/advanced.rst"},
			})
		case "/repos/acme/widget/contents/docs/intro.md":
			json.NewEncoder(w).Encode(map[string]string{
				"type": "file", "encoding": "base64",
				"content": base64.StdEncoding.EncodeToString([]byte("intro")),
			})
		case "/repos/acme/widget/contents/docs/guide/advanced.rst":
			json.NewEncoder(w).Encode(map[string]string{
				"type": "file", "encoding": "base64",
				"content": base64.StdEncoding.EncodeToString([]byte("advanced")),
			})
		default:
			w.WriteHeader(404)
		}
	}))

	docs, err := client.ListDocFiles(context.Background(), target, []string{"docs/"}, "head")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"docs/intro.md":           "intro",
		"docs/guide/advanced.rst": "advanced",
	}, docs)
}

func TestListDocFiles_MissingRootIsEmpty(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))

	docs, err := client.ListDocFiles(context.Background(), target, []string{"docs/"}, "head")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestCreateBranch_ExistingBranchIsSuccess(t *testing.T) {
	for _, status := range []int{201, 422} {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/repos/acme/widget/git/refs", r.URL.Path)
			w.WriteHeader(status)
		}))

		err := client.CreateBranch(context.Background(), target, "tome/docs-update", "abc")
		assert.NoError(t, err, "status %d", status)
	}
}

func TestPutFile_NewAndExisting(t *testing.T) {
	var putBody map[string]string

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(map[string]string{"sha": "blob123"})
			return
		}
		json.NewDecoder(r.Body).Decode(&putBody)
		w.WriteHeader(200)
	}))

	err := client.PutFile(context.Background(), target, "docs/a.md", "new content", "docs: update", "branch")
	require.NoError(t, err)
	assert.Equal(t, "blob123", putBody["sha"], "update must carry the existing blob sha")
	assert.Equal(t, "branch", putBody["branch"])

	decoded, err := base64.StdEncoding.DecodeString(putBody["content"])
	require.NoError(t, err)
	assert.Equal(t, "new content", string(decoded))
}

func TestCreateAndGetPull(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			var req map[string]string
			json.NewDecoder(r.Body).Decode(&req)
			assert.Equal(t, "tome/docs-update", req["head"])
			w.WriteHeader(201)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"number": 7, "html_url": "https://example.com/pr/7", "state": "open",
			})
		default:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"number": 7, "state": "closed", "merged": true,
			})
		}
	}))

	pr, err := client.CreatePull(context.Background(), target, PullRequestInput{
		Title: "docs", Head: "tome/docs-update", Base: "main",
	})
	require.NoError(t, err)
	assert.Equal(t, 7, pr.Number)
	assert.Equal(t, "open", pr.State)

	got, err := client.GetPull(context.Background(), target, 7)
	require.NoError(t, err)
	assert.True(t, got.Merged)
	assert.Equal(t, "closed", got.State)
}

func TestVerifyAccess(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer tok" {
			w.WriteHeader(200)
			return
		}
		w.WriteHeader(401)
	}))

	assert.NoError(t, client.VerifyAccess(context.Background(), target))

	bad := target
	bad.Token = "wrong"
	err := client.VerifyAccess(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindAuthFailed))
}
