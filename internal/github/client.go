// Package github tracks the pull requests a session's agent produces.
package github

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	gogh "github.com/google/go-github/v68/github"
)

// Client wraps the GitHub API for PR status lookups.
type Client struct {
	gh *gogh.Client
}

// NewClient creates a GitHub client authenticated with the given token.
func NewClient(token string) *Client {
	return &Client{
		gh: gogh.NewClient(nil).WithAuthToken(token),
	}
}

// PRState returns the current state of the pull request at prURL:
// "open", "closed", or "merged".
func (c *Client) PRState(ctx context.Context, prURL string) (string, error) {
	owner, repo, number, err := parsePRURL(prURL)
	if err != nil {
		return "", err
	}

	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return "", fmt.Errorf("getting pull request: %w", err)
	}

	if pr.GetMerged() {
		return "merged", nil
	}
	return pr.GetState(), nil
}

// parsePRURL extracts owner, repo, and PR number from a GitHub PR URL like
// https://github.com/owner/repo/pull/42.
func parsePRURL(prURL string) (owner, repo string, number int, err error) {
	u, err := url.Parse(prURL)
	if err != nil {
		return "", "", 0, fmt.Errorf("parsing PR URL: %w", err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 4 || parts[2] != "pull" {
		return "", "", 0, fmt.Errorf("not a pull request URL: %s", prURL)
	}

	number, err = strconv.Atoi(parts[3])
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid PR number in %s", prURL)
	}
	return parts[0], parts[1], number, nil
}
