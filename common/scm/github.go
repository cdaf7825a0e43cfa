package scm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tomehq/tome/common/clients"
	"github.com/tomehq/tome/common/faults"
)

// docExtensions are the file types the gap detector reads as documentation
var docExtensions = []string{".md", ".mdx", ".rst", ".txt"}

// GitHubClient implements Client against the GitHub REST v3 API
type GitHubClient struct {
	baseURL string
	http    *clients.HTTPClient
	logger  clients.Logger
}

// NewGitHubClient creates a GitHub client. baseURL is normally
// https://api.github.com; tests point it at a local server.
func NewGitHubClient(baseURL string, logger clients.Logger) *GitHubClient {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	return &GitHubClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    clients.NewHTTPClient(httpClient, logger),
		logger:  logger,
	}
}

func (c *GitHubClient) headers(t Target, accept string) map[string]string {
	if accept == "" {
		accept = "application/vnd.github.v3+json"
	}
	return map[string]string{
		"Authorization":        "Bearer " + t.Token,
		"Accept":               accept,
		"X-GitHub-Api-Version": "2022-11-28",
	}
}

// classify maps a GitHub error response to a fault kind. GitHub signals
// rate limiting with 403 plus an exhausted X-RateLimit-Remaining header,
// not just 429.
func classify(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("github responded %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	if resp.StatusCode == 403 && resp.Header.Get("X-RateLimit-Remaining") == "0" {
		return faults.Wrap(faults.KindRateLimited, op, err)
	}

	return faults.FromStatusCode(op, resp.StatusCode, err)
}

// CompareDiff fetches the combined diff for the commit span as raw
// unified diff text. A 404 or 422 means the range is no longer
// resolvable (force push), which is fatal for the job.
func (c *GitHubClient) CompareDiff(ctx context.Context, t Target, base, head string) (string, error) {
	const op = "scm.compare_diff"

	url := fmt.Sprintf("%s/repos/%s/%s/compare/%s...%s", c.baseURL, t.Owner, t.Repo, base, head)
	resp, err := c.http.DoRequest(ctx, http.MethodGet, url, nil, c.headers(t, "application/vnd.github.v3.diff"))
	if err != nil {
		return "", faults.Wrap(faults.KindOf(err), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 || resp.StatusCode == 422 {
		return "", faults.Wrap(faults.KindDiffUnavailable, op,
			fmt.Errorf("compare %s...%s not resolvable (status %d)", base, head, resp.StatusCode))
	}
	if resp.StatusCode != 200 {
		return "", classify(op, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", faults.Wrap(faults.KindTransient, op, err)
	}

	return string(body), nil
}

type contentsResponse struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// GetFileContent fetches decoded content of a file at a ref
func (c *GitHubClient) GetFileContent(ctx context.Context, t Target, path, ref string) (string, error) {
	const op = "scm.get_file"

	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, t.Owner, t.Repo, path)
	if ref != "" {
		url += "?ref=" + ref
	}

	resp, err := c.http.DoRequest(ctx, http.MethodGet, url, nil, c.headers(t, ""))
	if err != nil {
		return "", faults.Wrap(faults.KindOf(err), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return "", ErrFileNotFound
	}
	if resp.StatusCode != 200 {
		return "", classify(op, resp)
	}

	var data contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", faults.Wrap(faults.KindMalformedResponse, op, err)
	}

	if data.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(data.Content, "\n", ""))
		if err != nil {
			return "", faults.Wrap(faults.KindMalformedResponse, op, err)
		}
		return string(decoded), nil
	}

	return data.Content, nil
}

// ListDocFiles recursively collects documentation files under the given
// roots at a ref, returning path -> content
func (c *GitHubClient) ListDocFiles(ctx context.Context, t Target, roots []string, ref string) (map[string]string, error) {
	result := make(map[string]string)
	for _, root := range roots {
		if err := c.walkDocs(ctx, t, strings.TrimRight(root, "/"), ref, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (c *GitHubClient) walkDocs(ctx context.Context, t Target, dir, ref string, result map[string]string) error {
	const op = "scm.list_docs"

	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, t.Owner, t.Repo, dir)
	if ref != "" {
		url += "?ref=" + ref
	}

	resp, err := c.http.DoRequest(ctx, http.MethodGet, url, nil, c.headers(t, ""))
	if err != nil {
		return faults.Wrap(faults.KindOf(err), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		// A configured docs root that doesn't exist yet is not an error
		return nil
	}
	if resp.StatusCode != 200 {
		return classify(op, resp)
	}

	var items []contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return faults.Wrap(faults.KindMalformedResponse, op, err)
	}

	for _, item := range items {
		switch item.Type {
		case "dir":
			if err := c.walkDocs(ctx, t, item.Path, ref, result); err != nil {
				return err
			}
		case "file":
			if !isDocFile(item.Name) {
				continue
			}
			content, err := c.GetFileContent(ctx, t, item.Path, ref)
			if err != nil {
				if err == ErrFileNotFound {
					continue
				}
				return err
			}
			if content != "" {
				result[item.Path] = content
			}
		}
	}

	return nil
}

func isDocFile(name string) bool {
	for _, ext := range docExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// GetBranchSHA resolves a branch to its head commit SHA
func (c *GitHubClient) GetBranchSHA(ctx context.Context, t Target, branch string) (string, error) {
	const op = "scm.get_branch"

	url := fmt.Sprintf("%s/repos/%s/%s/git/refs/heads/%s", c.baseURL, t.Owner, t.Repo, branch)
	resp, err := c.http.DoRequest(ctx, http.MethodGet, url, nil, c.headers(t, ""))
	if err != nil {
		return "", faults.Wrap(faults.KindOf(err), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", classify(op, resp)
	}

	var data struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", faults.Wrap(faults.KindMalformedResponse, op, err)
	}

	return data.Object.SHA, nil
}

// CreateBranch creates a branch from a commit SHA. An already-existing
// branch (422) is treated as success so a resumed publish stage can
// continue where it left off.
func (c *GitHubClient) CreateBranch(ctx context.Context, t Target, branch, fromSHA string) error {
	const op = "scm.create_branch"

	payload, _ := json.Marshal(map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": fromSHA,
	})

	url := fmt.Sprintf("%s/repos/%s/%s/git/refs", c.baseURL, t.Owner, t.Repo)
	resp, err := c.http.DoRequest(ctx, http.MethodPost, url, bytes.NewReader(payload), c.headers(t, ""))
	if err != nil {
		return faults.Wrap(faults.KindOf(err), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 201 || resp.StatusCode == 422 {
		return nil
	}

	return classify(op, resp)
}

// PutFile creates or updates a file on a branch. The existing blob SHA
// is looked up first because the contents API requires it for updates.
func (c *GitHubClient) PutFile(ctx context.Context, t Target, path, content, message, branch string) error {
	const op = "scm.put_file"

	sha, err := c.getFileSHA(ctx, t, path, branch)
	if err != nil {
		return err
	}

	body := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  branch,
	}
	if sha != "" {
		body["sha"] = sha
	}
	payload, _ := json.Marshal(body)

	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, t.Owner, t.Repo, path)
	resp, err := c.http.DoRequest(ctx, http.MethodPut, url, bytes.NewReader(payload), c.headers(t, ""))
	if err != nil {
		return faults.Wrap(faults.KindOf(err), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 200 || resp.StatusCode == 201 {
		return nil
	}

	return classify(op, resp)
}

func (c *GitHubClient) getFileSHA(ctx context.Context, t Target, path, branch string) (string, error) {
	const op = "scm.get_file_sha"

	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s", c.baseURL, t.Owner, t.Repo, path, branch)
	resp, err := c.http.DoRequest(ctx, http.MethodGet, url, nil, c.headers(t, ""))
	if err != nil {
		return "", faults.Wrap(faults.KindOf(err), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return "", nil
	}
	if resp.StatusCode != 200 {
		return "", classify(op, resp)
	}

	var data contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", faults.Wrap(faults.KindMalformedResponse, op, err)
	}

	return data.SHA, nil
}

type pullResponse struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
	Merged  bool   `json:"merged"`
}

// CreatePull opens a pull request
func (c *GitHubClient) CreatePull(ctx context.Context, t Target, input PullRequestInput) (*PullRequest, error) {
	const op = "scm.create_pull"

	payload, _ := json.Marshal(map[string]string{
		"title": input.Title,
		"body":  input.Body,
		"head":  input.Head,
		"base":  input.Base,
	})

	url := fmt.Sprintf("%s/repos/%s/%s/pulls", c.baseURL, t.Owner, t.Repo)
	resp, err := c.http.DoRequest(ctx, http.MethodPost, url, bytes.NewReader(payload), c.headers(t, ""))
	if err != nil {
		return nil, faults.Wrap(faults.KindOf(err), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 201 {
		return nil, classify(op, resp)
	}

	var data pullResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, faults.Wrap(faults.KindMalformedResponse, op, err)
	}

	return &PullRequest{Number: data.Number, URL: data.HTMLURL, State: data.State, Merged: data.Merged}, nil
}

// GetPull reads the current state of a pull request
func (c *GitHubClient) GetPull(ctx context.Context, t Target, number int) (*PullRequest, error) {
	const op = "scm.get_pull"

	url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", c.baseURL, t.Owner, t.Repo, number)
	resp, err := c.http.DoRequest(ctx, http.MethodGet, url, nil, c.headers(t, ""))
	if err != nil {
		return nil, faults.Wrap(faults.KindOf(err), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return nil, ErrFileNotFound
	}
	if resp.StatusCode != 200 {
		return nil, classify(op, resp)
	}

	var data pullResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, faults.Wrap(faults.KindMalformedResponse, op, err)
	}

	return &PullRequest{Number: data.Number, URL: data.HTMLURL, State: data.State, Merged: data.Merged}, nil
}

// CreateIssueComment posts a comment on a pull request (issues API)
func (c *GitHubClient) CreateIssueComment(ctx context.Context, t Target, number int, body string) error {
	const op = "scm.create_comment"

	payload, _ := json.Marshal(map[string]string{"body": body})

	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", c.baseURL, t.Owner, t.Repo, number)
	resp, err := c.http.DoRequest(ctx, http.MethodPost, url, bytes.NewReader(payload), c.headers(t, ""))
	if err != nil {
		return faults.Wrap(faults.KindOf(err), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 201 {
		return classify(op, resp)
	}

	return nil
}

// VerifyAccess checks the credential can reach the repository
func (c *GitHubClient) VerifyAccess(ctx context.Context, t Target) error {
	const op = "scm.verify_access"

	url := fmt.Sprintf("%s/repos/%s/%s", c.baseURL, t.Owner, t.Repo)
	resp, err := c.http.DoRequest(ctx, http.MethodGet, url, nil, c.headers(t, ""))
	if err != nil {
		return faults.Wrap(faults.KindOf(err), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return classify(op, resp)
	}

	return nil
}
