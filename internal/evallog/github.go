package evallog

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"
	"github.com/rotisserie/eris"
)

// GitHubOptions locates the log file in a GitHub repository.
type GitHubOptions struct {
	Token  string
	Owner  string
	Repo   string
	Branch string
	Path   string
	// BaseURL overrides the API root (GitHub Enterprise or tests).
	BaseURL string
	// HTTPClient overrides the transport. Nil uses http.DefaultClient.
	HTTPClient *http.Client
}

// GitHubBackend keeps the log as a file committed to a repository branch.
// The version is the file's blob SHA, which the contents API requires on
// every update and rejects with 409 when it is stale.
type GitHubBackend struct {
	client *github.Client
	owner  string
	repo   string
	branch string
	path   string
}

// NewGitHubBackend creates a backend from opts.
func NewGitHubBackend(opts GitHubOptions) (*GitHubBackend, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, eris.New("evallog: github owner and repo are required")
	}
	if opts.Path == "" {
		return nil, eris.New("evallog: github path is required")
	}

	client := github.NewClient(opts.HTTPClient)
	if opts.Token != "" {
		client = client.WithAuthToken(opts.Token)
	}
	if opts.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, eris.Wrap(err, "evallog: parse github base url")
		}
		client.BaseURL = u
	}

	return &GitHubBackend{
		client: client,
		owner:  opts.Owner,
		repo:   opts.Repo,
		branch: opts.Branch,
		path:   strings.TrimPrefix(opts.Path, "/"),
	}, nil
}

// Name returns the backend name.
func (b *GitHubBackend) Name() string {
	return "github:" + b.owner + "/" + b.repo + "@" + b.branch + ":" + b.path
}

// Read fetches the file at the configured branch. Files over 1 MB come back
// without inline content and are fetched as a raw git blob instead.
func (b *GitHubBackend) Read(ctx context.Context) (*Blob, error) {
	var getOpts *github.RepositoryContentGetOptions
	if b.branch != "" {
		getOpts = &github.RepositoryContentGetOptions{Ref: b.branch}
	}

	file, _, resp, err := b.client.Repositories.GetContents(ctx, b.owner, b.repo, b.path, getOpts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "evallog: github get %s", b.path)
	}
	if file == nil {
		return nil, eris.Errorf("evallog: github path %s is a directory", b.path)
	}

	sha := file.GetSHA()
	if sha == "" {
		return nil, eris.Errorf("evallog: github returned no sha for %s", b.path)
	}

	if file.GetEncoding() == "none" {
		raw, _, err := b.client.Git.GetBlobRaw(ctx, b.owner, b.repo, sha)
		if err != nil {
			return nil, eris.Wrapf(err, "evallog: github get blob %s", sha)
		}
		return &Blob{Data: raw, Version: Version(sha)}, nil
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, eris.Wrapf(err, "evallog: github decode %s", b.path)
	}
	return &Blob{Data: []byte(content), Version: Version(sha)}, nil
}

// Write commits data to the branch. An empty base creates the file; any other
// base is sent as the expected blob SHA.
func (b *GitHubBackend) Write(ctx context.Context, data []byte, base Version, message string) (Version, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: data,
	}
	if b.branch != "" {
		opts.Branch = github.String(b.branch)
	}

	var (
		res  *github.RepositoryContentResponse
		resp *github.Response
		err  error
	)
	if base == NoVersion {
		res, resp, err = b.client.Repositories.CreateFile(ctx, b.owner, b.repo, b.path, opts)
	} else {
		opts.SHA = github.String(string(base))
		res, resp, err = b.client.Repositories.UpdateFile(ctx, b.owner, b.repo, b.path, opts)
	}
	if err != nil {
		if resp != nil && isGitHubConflict(resp.StatusCode, base) {
			return NoVersion, &ConflictError{Source: b.Name(), Base: base, Err: err}
		}
		return NoVersion, eris.Wrapf(err, "evallog: github write %s", b.path)
	}

	if res == nil || res.Content == nil || res.Content.GetSHA() == "" {
		return NoVersion, eris.Errorf("evallog: github returned no sha after writing %s", b.path)
	}
	return Version(res.Content.GetSHA()), nil
}

// isGitHubConflict maps contents API statuses to a stale version. 409 is a
// SHA mismatch on update; 422 on create means the file already exists and a
// SHA was required.
func isGitHubConflict(status int, base Version) bool {
	if status == http.StatusConflict {
		return true
	}
	return status == http.StatusUnprocessableEntity && base == NoVersion
}
