// Package gitlab is the hosting collaborator: it fetches merge request
// details and comment streams and posts the gate's report and labels. The
// change-control core never talks to GitLab directly.
package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/changegate/internal/retry"
	"github.com/changegate/pkg/models"
)

// Config contains configuration for the GitLab client
type Config struct {
	URL   string `koanf:"url"`
	Token string `koanf:"token"`
}

// Client wraps the GitLab API for the gate's needs. The official client only
// handles connection setup; the individual endpoints are called over plain
// REST so the response shapes stay under our control. External calls retry
// with exponential backoff here, on the collaborator side.
type Client struct {
	gl      *gitlab.Client
	baseURL string
	token   string
	http    *http.Client
	retry   retry.Config
}

// New creates a new GitLab client
func New(config Config) (*Client, error) {
	gl := gitlab.NewClient(nil, config.Token)
	if config.URL != "" {
		if err := gl.SetBaseURL(fmt.Sprintf("%s/api/v4", config.URL)); err != nil {
			return nil, fmt.Errorf("failed to set GitLab API base URL: %w", err)
		}
	}
	return &Client{
		gl:      gl,
		baseURL: fmt.Sprintf("%s/api/v4", strings.TrimSuffix(config.URL, "/")),
		token:   config.Token,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   retry.DefaultConfig(),
	}, nil
}

// mrURLPattern matches merge request URLs like
// https://gitlab.example.com/group/project/-/merge_requests/42
var mrURLPattern = regexp.MustCompile(`^https?://[^/]+/(.+?)/-/merge_requests/(\d+)`)

// ExtractMRInfo parses a merge request URL into its project path and IID.
func ExtractMRInfo(mrURL string) (string, int, error) {
	m := mrURLPattern.FindStringSubmatch(mrURL)
	if m == nil {
		return "", 0, fmt.Errorf("invalid merge request URL: %s", mrURL)
	}
	projectPath, err := url.PathUnescape(m[1])
	if err != nil {
		return "", 0, fmt.Errorf("invalid project path in URL %s: %w", mrURL, err)
	}
	iid, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, fmt.Errorf("invalid merge request IID in URL %s: %w", mrURL, err)
	}
	return projectPath, iid, nil
}

// mergeRequest is the subset of the GitLab merge request payload the gate
// reads.
type mergeRequest struct {
	IID         int       `json:"iid"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	Author      struct {
		Username string `json:"username"`
	} `json:"author"`
}

// note is one comment on a merge request.
type note struct {
	Body      string    `json:"body"`
	System    bool      `json:"system"`
	CreatedAt time.Time `json:"created_at"`
	Author    struct {
		Username string `json:"username"`
	} `json:"author"`
}

// MergeRequestComments returns the full ordered comment stream of a merge
// request: the description as a pseudo-comment authored by the MR author,
// followed by every non-system note.
func (c *Client) MergeRequestComments(ctx context.Context, projectID string, mrIID int) ([]models.Comment, error) {
	mrPath := fmt.Sprintf("/projects/%s/merge_requests/%d", url.PathEscape(projectID), mrIID)
	var mr mergeRequest
	if _, err := c.do(ctx, http.MethodGet, mrPath, nil, nil, &mr); err != nil {
		return nil, fmt.Errorf("failed to fetch merge request %s!%d: %w", projectID, mrIID, err)
	}

	var comments []models.Comment
	if mr.Description != "" {
		comments = append(comments, models.Comment{
			Username:  mr.Author.Username,
			Body:      mr.Description,
			CreatedAt: mr.CreatedAt,
		})
	}

	query := url.Values{
		"order_by": {"created_at"},
		"sort":     {"asc"},
		"per_page": {"100"},
	}
	for page := 1; page > 0; {
		query.Set("page", strconv.Itoa(page))
		var notes []note
		next, err := c.do(ctx, http.MethodGet, mrPath+"/notes", query, nil, &notes)
		if err != nil {
			return nil, fmt.Errorf("failed to list notes for %s!%d: %w", projectID, mrIID, err)
		}
		for _, n := range notes {
			if n.System {
				continue
			}
			comments = append(comments, models.Comment{
				Username:  n.Author.Username,
				Body:      n.Body,
				CreatedAt: n.CreatedAt,
			})
		}
		page = next
	}

	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})
	log.Debug().Str("project", projectID).Int("mr", mrIID).Int("comments", len(comments)).
		Msg("fetched merge request comment stream")
	return comments, nil
}

// PostComment posts a comment on a merge request.
func (c *Client) PostComment(ctx context.Context, projectID string, mrIID int, body string) error {
	path := fmt.Sprintf("/projects/%s/merge_requests/%d/notes", url.PathEscape(projectID), mrIID)
	if _, err := c.do(ctx, http.MethodPost, path, nil, map[string]string{"body": body}, nil); err != nil {
		return fmt.Errorf("failed to post comment on %s!%d: %w", projectID, mrIID, err)
	}
	return nil
}

// UpdateLabels adds and removes labels on a merge request in one call.
func (c *Client) UpdateLabels(ctx context.Context, projectID string, mrIID int, add, remove []string) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	payload := map[string]string{}
	if len(add) > 0 {
		payload["add_labels"] = strings.Join(add, ",")
	}
	if len(remove) > 0 {
		payload["remove_labels"] = strings.Join(remove, ",")
	}
	path := fmt.Sprintf("/projects/%s/merge_requests/%d", url.PathEscape(projectID), mrIID)
	if _, err := c.do(ctx, http.MethodPut, path, nil, payload, nil); err != nil {
		return fmt.Errorf("failed to update labels on %s!%d: %w", projectID, mrIID, err)
	}
	return nil
}

// do executes one API request with retries and decodes the response into
// out. The returned page index is parsed from the pagination header; zero
// means the last page.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (int, error) {
	var nextPage int
	err := retry.Do(ctx, c.retry, func() error {
		requestURL := c.baseURL + path
		if len(query) > 0 {
			requestURL += "?" + query.Encode()
		}
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("failed to marshal request body: %w", err)
			}
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Add("PRIVATE-TOKEN", c.token)
		if body != nil {
			req.Header.Add("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("failed to execute request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			respBody, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
		}
		nextPage, _ = strconv.Atoi(resp.Header.Get("X-Next-Page"))
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil
	})
	return nextPage, err
}
