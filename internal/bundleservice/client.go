// Package bundleservice is the client for the configuration-bundle query
// service. It supplies change-type and role definitions and answers the
// cross-system selector and file-content lookups context resolution needs.
package bundleservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/changegate/internal/bundlediff"
	"github.com/changegate/internal/changetypes"
	"github.com/changegate/internal/ownership"
	"github.com/changegate/internal/retry"
)

// Client is a GraphQL-style HTTP client for the bundle query service. Its
// lifecycle is owned by the caller of the top-level gate run; it is threaded
// explicitly through every component that queries it.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	retry   retry.Config
}

var _ ownership.Querier = (*Client)(nil)

// New creates a bundle service client.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		retry:   retry.DefaultConfig(),
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// query posts one GraphQL query and returns the raw data payload.
func (c *Client) query(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	var data json.RawMessage
	err = retry.Do(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to execute request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("bundle service request failed with status %d: %s", resp.StatusCode, string(raw))
		}

		var decoded graphqlResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		if len(decoded.Errors) > 0 {
			return fmt.Errorf("bundle service query failed: %s", decoded.Errors[0].Message)
		}
		data = decoded.Data
		return nil
	})
	return data, err
}

const changeTypesQuery = `
query ChangeTypes {
  change_types: change_types_v1 {
    name
    description
    contextType
    contextSchema
    disabled
    priority
    restrictive
    inherit { name }
    changes {
      provider
      changeSchema
      jsonPathSelectors
      context { selector when }
      changeTypes { name }
    }
    implicitOwnership { provider selector }
  }
}`

// ChangeTypes fetches every change-type definition of the current
// configuration snapshot.
func (c *Client) ChangeTypes(ctx context.Context) ([]changetypes.ChangeTypeV1, error) {
	data, err := c.query(ctx, changeTypesQuery, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		ChangeTypes []changetypes.ChangeTypeV1 `json:"change_types"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode change types: %w", err)
	}
	log.Debug().Int("change_types", len(payload.ChangeTypes)).Msg("fetched change type definitions")
	return payload.ChangeTypes, nil
}

const rolesQuery = `
query Roles {
  roles: roles_v1 {
    name
    users { org_username tag_on_merge_requests }
    bots { org_username }
    self_service {
      change_type { name }
      datafiles { path }
      resources
    }
  }
}`

// Roles fetches every role/ownership definition.
func (c *Client) Roles(ctx context.Context) ([]ownership.RoleV1, error) {
	data, err := c.query(ctx, rolesQuery, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Roles []ownership.RoleV1 `json:"roles"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode roles: %w", err)
	}
	return payload.Roles, nil
}

const fileContentQuery = `
query FileContent($path: String!) {
  file: bundle_file(path: $path) {
    schema
    content
  }
}`

// FileContent fetches the current content and schema of one bundle file.
func (c *Client) FileContent(ctx context.Context, path string) (any, string, error) {
	data, err := c.query(ctx, fileContentQuery, map[string]any{"path": path})
	if err != nil {
		return nil, "", err
	}
	var payload struct {
		File *struct {
			Schema  string `json:"schema"`
			Content any    `json:"content"`
		} `json:"file"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, "", fmt.Errorf("failed to decode file content for %s: %w", path, err)
	}
	if payload.File == nil {
		return nil, "", fmt.Errorf("bundle file %s not found", path)
	}
	return payload.File.Content, payload.File.Schema, nil
}

const resolveSelectorQuery = `
query ResolveSelector($selector: String!, $path: String!) {
  paths: resolve_selector(selector: $selector, path: $path)
}`

// ResolveSelector answers a cross-system context selector, parameterized by
// the changed file's path.
func (c *Client) ResolveSelector(ctx context.Context, selector, changedFilePath string) ([]string, error) {
	data, err := c.query(ctx, resolveSelectorQuery, map[string]any{
		"selector": selector,
		"path":     changedFilePath,
	})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Paths []string `json:"paths"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode selector answer: %w", err)
	}
	return payload.Paths, nil
}

const bundleDiffQuery = `
query BundleDiff($mergeRequest: String!) {
  diff: bundle_diff(merge_request: $mergeRequest) {
    datafiles
    resourcefiles
  }
}`

// BundleDiff fetches the bundle diff document computed for a merge request.
func (c *Client) BundleDiff(ctx context.Context, mergeRequestURL string) (*bundlediff.Document, error) {
	data, err := c.query(ctx, bundleDiffQuery, map[string]any{"mergeRequest": mergeRequestURL})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Diff *bundlediff.Document `json:"diff"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode bundle diff: %w", err)
	}
	if payload.Diff == nil {
		return nil, fmt.Errorf("no bundle diff found for %s", mergeRequestURL)
	}
	log.Debug().
		Int("datafiles", len(payload.Diff.Datafiles)).
		Int("resourcefiles", len(payload.Diff.Resourcefiles)).
		Msg("fetched bundle diff document")
	return payload.Diff, nil
}
