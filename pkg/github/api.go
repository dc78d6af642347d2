package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const (
	filesPerPage = 100
	maxFilePages = 30 // GitHub lists at most 3000 files
)

// ListPullRequestFiles returns the files changed by a pull request.
func (c *Client) ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]File, error) {
	var all []File
	for page := 1; page <= maxFilePages; page++ {
		path := fmt.Sprintf("/repos/%s/%s/pulls/%d/files?per_page=%d&page=%d",
			url.PathEscape(owner), url.PathEscape(repo), number, filesPerPage, page)
		req, err := c.newRequest(ctx, http.MethodGet, path, http.NoBody)
		if err != nil {
			return nil, err
		}
		resp, err := c.getWithRetry(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("listing files of %s/%s#%d: %w", owner, repo, number, err)
		}

		var files []File
		err = func() error {
			defer func() {
				if err := resp.Body.Close(); err != nil {
					c.logger.Debug("failed to close response body", "error", err)
				}
			}()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status: %d", resp.StatusCode)
			}
			return json.NewDecoder(resp.Body).Decode(&files)
		}()
		if err != nil {
			return nil, fmt.Errorf("listing files of %s/%s#%d: %w", owner, repo, number, err)
		}

		all = append(all, files...)
		if len(files) < filesPerPage {
			break
		}
	}
	c.logger.Debug("fetched pull request files", "repo", owner+"/"+repo, "number", number, "count", len(all))
	return all, nil
}

// CreateComment posts a comment on an issue or pull request.
func (c *Client) CreateComment(ctx context.Context, owner, repo string, number int, body string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", url.PathEscape(owner), url.PathEscape(repo), number)
	return c.send(ctx, http.MethodPost, path, map[string]string{"body": body})
}

// AddLabels adds labels to an issue or pull request.
func (c *Client) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/labels", url.PathEscape(owner), url.PathEscape(repo), number)
	return c.send(ctx, http.MethodPost, path, map[string][]string{"labels": labels})
}

// CreateReview submits a pull request review with inline comments.
func (c *Client) CreateReview(ctx context.Context, owner, repo string, number int, review Review) error {
	if review.Event == "" {
		review.Event = "COMMENT"
	}
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews", url.PathEscape(owner), url.PathEscape(repo), number)
	return c.send(ctx, http.MethodPost, path, review)
}

// send issues a single non-idempotent request; it is never retried.
func (c *Client) send(ctx context.Context, method, path string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best effort for the error text
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	c.logger.Debug("GitHub write completed", "method", method, "path", path, "status", resp.StatusCode)
	return nil
}
