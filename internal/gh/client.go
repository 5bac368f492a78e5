// Package gh is the GitHub REST client used by the sync orchestrator.
package gh

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v71/github"
)

// MaxPages bounds every paginated listing.
const MaxPages = 50

// PerPage is the page size requested from GitHub.
const PerPage = 100

// User is a GitHub account.
type User struct {
	ID        int64
	Login     string
	AvatarURL string
	Type      string
}

// IsGhost reports whether the account was deleted ("ghost") or is missing.
func (u *User) IsGhost() bool {
	return u == nil || u.ID == 0 || strings.EqualFold(u.Login, "ghost")
}

// Repository identifies a GitHub repository.
type Repository struct {
	ID    int64
	Owner string
	Name  string
}

// PullRequest is the subset of a pull request royale tracks.
type PullRequest struct {
	ID        int64
	Number    int
	Title     string
	State     string
	User      *User
	CreatedAt time.Time
	UpdatedAt time.Time
	MergedAt  *time.Time
	ClosedAt  *time.Time
}

// Review is a submitted pull request review. SubmittedAt is nil for pending reviews.
type Review struct {
	ID          int64
	User        *User
	State       string
	Body        string
	SubmittedAt *time.Time
}

// ReviewComment is an inline diff comment, linked to the review it was submitted with.
type ReviewComment struct {
	ID        int64
	ReviewID  int64
	User      *User
	Body      string
	CreatedAt time.Time
}

// Commit is a commit on a pull request.
type Commit struct {
	SHA         string
	Message     string
	Author      *User
	CommittedAt time.Time
}

// Client is the GitHub API surface the orchestrator needs.
type Client interface {
	GetRepository(ctx context.Context, owner, name string) (*Repository, error)
	// ListPullRequests returns one page of pull requests, most recently updated first.
	ListPullRequests(ctx context.Context, owner, name string, page, perPage int) ([]*PullRequest, error)
	ListReviews(ctx context.Context, owner, name string, number int) ([]*Review, error)
	ListReviewComments(ctx context.Context, owner, name string, number int) ([]*ReviewComment, error)
	ListCommits(ctx context.Context, owner, name string, number int) ([]*Commit, error)
}

// RESTClient implements Client with go-github.
type RESTClient struct {
	api *github.Client
}

// NewRESTClient creates a client. token may be empty for anonymous access; baseURL may be
// empty for api.github.com or point at a GitHub Enterprise API root.
func NewRESTClient(token, baseURL string, httpClient *http.Client) (*RESTClient, error) {
	api := github.NewClient(httpClient)
	if token != "" {
		api = api.WithAuthToken(token)
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		api.BaseURL = u
	}
	return &RESTClient{api: api}, nil
}

func (c *RESTClient) GetRepository(ctx context.Context, owner, name string) (*Repository, error) {
	repo, resp, err := c.api.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, classify("get repository", resp, err)
	}
	return &Repository{
		ID:    repo.GetID(),
		Owner: repo.GetOwner().GetLogin(),
		Name:  repo.GetName(),
	}, nil
}

func (c *RESTClient) ListPullRequests(ctx context.Context, owner, name string, page, perPage int) ([]*PullRequest, error) {
	prs, resp, err := c.api.PullRequests.List(ctx, owner, name, &github.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	})
	if err != nil {
		return nil, classify("list pull requests", resp, err)
	}

	out := make([]*PullRequest, 0, len(prs))
	for _, pr := range prs {
		out = append(out, &PullRequest{
			ID:        pr.GetID(),
			Number:    pr.GetNumber(),
			Title:     pr.GetTitle(),
			State:     pr.GetState(),
			User:      convertUser(pr.GetUser()),
			CreatedAt: pr.GetCreatedAt().Time,
			UpdatedAt: pr.GetUpdatedAt().Time,
			MergedAt:  timePtr(pr.MergedAt),
			ClosedAt:  timePtr(pr.ClosedAt),
		})
	}
	return out, nil
}

func (c *RESTClient) ListReviews(ctx context.Context, owner, name string, number int) ([]*Review, error) {
	var out []*Review
	opts := &github.ListOptions{PerPage: PerPage}
	for range MaxPages {
		reviews, resp, err := c.api.PullRequests.ListReviews(ctx, owner, name, number, opts)
		if err != nil {
			return nil, classify("list reviews", resp, err)
		}
		for _, r := range reviews {
			out = append(out, &Review{
				ID:          r.GetID(),
				User:        convertUser(r.GetUser()),
				State:       r.GetState(),
				Body:        r.GetBody(),
				SubmittedAt: timePtr(r.SubmittedAt),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *RESTClient) ListReviewComments(ctx context.Context, owner, name string, number int) ([]*ReviewComment, error) {
	var out []*ReviewComment
	opts := &github.PullRequestListCommentsOptions{ListOptions: github.ListOptions{PerPage: PerPage}}
	for range MaxPages {
		comments, resp, err := c.api.PullRequests.ListComments(ctx, owner, name, number, opts)
		if err != nil {
			return nil, classify("list review comments", resp, err)
		}
		for _, cm := range comments {
			out = append(out, &ReviewComment{
				ID:        cm.GetID(),
				ReviewID:  cm.GetPullRequestReviewID(),
				User:      convertUser(cm.GetUser()),
				Body:      cm.GetBody(),
				CreatedAt: cm.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *RESTClient) ListCommits(ctx context.Context, owner, name string, number int) ([]*Commit, error) {
	var out []*Commit
	opts := &github.ListOptions{PerPage: PerPage}
	for range MaxPages {
		commits, resp, err := c.api.PullRequests.ListCommits(ctx, owner, name, number, opts)
		if err != nil {
			return nil, classify("list commits", resp, err)
		}
		for _, rc := range commits {
			inner := rc.GetCommit()
			at := inner.GetAuthor().GetDate().Time
			if at.IsZero() {
				at = inner.GetCommitter().GetDate().Time
			}
			out = append(out, &Commit{
				SHA:         rc.GetSHA(),
				Message:     inner.GetMessage(),
				Author:      convertUser(rc.GetAuthor()),
				CommittedAt: at,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func convertUser(u *github.User) *User {
	if u == nil {
		return nil
	}
	return &User{
		ID:        u.GetID(),
		Login:     u.GetLogin(),
		AvatarURL: u.GetAvatarURL(),
		Type:      u.GetType(),
	}
}

func timePtr(ts *github.Timestamp) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	t := ts.UTC()
	return &t
}
