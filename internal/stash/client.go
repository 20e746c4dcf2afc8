package stash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrGraphQL marks errors reported inside a GraphQL response body.
var ErrGraphQL = errors.New("graphql error")

const findScenesQuery = `query FindScenes($filter: FindFilterType, $scene_filter: SceneFilterType) {
  findScenes(filter: $filter, scene_filter: $scene_filter) {
    count
    scenes {
      id
      title
      files { id path format width height duration frame_rate }
      paths { stream sprite vtt }
      tags { id name }
    }
  }
}`

const sceneUpdateMutation = `mutation SceneUpdate($input: SceneUpdateInput!) {
  sceneUpdate(input: $input) { id }
}`

// Client talks to the Stash GraphQL endpoint.
// Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	cookie     *http.Cookie
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

func WithSessionCookie(name, value string) ClientOption {
	return func(c *Client) {
		if name == "" || value == "" {
			return
		}
		c.cookie = &http.Cookie{Name: name, Value: value}
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a client for the Stash server at baseURL
// (e.g. http://localhost:9999).
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authorize sets the credential headers on req. Downloads of scene streams
// use it so they pass the same authentication as GraphQL calls.
func (c *Client) Authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("ApiKey", c.apiKey)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
}

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"` // field names and list indexes
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// FindScenes fetches one page of scenes matching filter, with the total count.
func (c *Client) FindScenes(ctx context.Context, filter SceneFilter, page PageRequest) (Page, error) {
	direction := page.Direction
	if direction == "" {
		direction = "ASC"
	}
	findFilter := map[string]any{
		"page":      page.Page,
		"per_page":  page.PerPage,
		"direction": direction,
	}
	if page.Sort != "" {
		findFilter["sort"] = page.Sort
	}

	variables := map[string]any{
		"filter":       findFilter,
		"scene_filter": sceneFilterVariables(filter),
	}

	var data struct {
		FindScenes struct {
			Count  int     `json:"count"`
			Scenes []Scene `json:"scenes"`
		} `json:"findScenes"`
	}
	if err := c.do(ctx, findScenesQuery, variables, &data); err != nil {
		return Page{}, fmt.Errorf("find scenes page %d: %w", page.Page, err)
	}

	return Page{
		Count:  data.FindScenes.Count,
		Scenes: data.FindScenes.Scenes,
	}, nil
}

// UpdateSceneTags replaces the scene's tag set with tagIDs.
func (c *Client) UpdateSceneTags(ctx context.Context, sceneID string, tagIDs []string) error {
	if tagIDs == nil {
		tagIDs = []string{}
	}
	variables := map[string]any{
		"input": map[string]any{
			"id":      sceneID,
			"tag_ids": tagIDs,
		},
	}

	var data struct {
		SceneUpdate *struct {
			ID string `json:"id"`
		} `json:"sceneUpdate"`
	}
	if err := c.do(ctx, sceneUpdateMutation, variables, &data); err != nil {
		return fmt.Errorf("update scene %s: %w", sceneID, err)
	}
	if data.SceneUpdate == nil {
		return fmt.Errorf("update scene %s: %w: empty sceneUpdate result", sceneID, ErrGraphQL)
	}
	return nil
}

func sceneFilterVariables(filter SceneFilter) map[string]any {
	ret := map[string]any{}
	if filter.ExcludeTagID != "" {
		ret["tags"] = map[string]any{
			"value":    []string{filter.ExcludeTagID},
			"modifier": "EXCLUDES",
			"depth":    0,
		}
	}
	if filter.PathRegex != "" {
		ret["path"] = map[string]any{
			"value":    filter.PathRegex,
			"modifier": "MATCHES_REGEX",
		}
	}
	return ret
}

func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.Authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return fmt.Errorf("request timed out: %w", err)
		}
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		msgs := make([]string, 0, len(gqlResp.Errors))
		for _, e := range gqlResp.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("%w: %s", ErrGraphQL, strings.Join(msgs, "; "))
	}
	if len(gqlResp.Data) == 0 || string(gqlResp.Data) == "null" {
		return fmt.Errorf("%w: response has no data", ErrGraphQL)
	}
	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}
