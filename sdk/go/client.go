package stratlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Stratline HTTP API client. Requests are scoped to the
// org carried by the bearer token.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v1",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Strategy represents the API strategy model (partial).
type Strategy struct {
	ID       string `json:"id"`
	OrgID    string `json:"org_id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	OwnerID  string `json:"owner_id,omitempty"`
}

// Project represents the API project model (partial).
type Project struct {
	ID                string `json:"id"`
	StrategyID        string `json:"strategy_id"`
	Title             string `json:"title"`
	Status            string `json:"status"`
	Progress          int    `json:"progress"`
	IsArchived        bool   `json:"is_archived"`
	IsTemplate        bool   `json:"is_template"`
	ProgressAtArchive *int   `json:"progress_at_archive,omitempty"`
}

// Action represents the API action model (partial).
type Action struct {
	ID         string  `json:"id"`
	ProjectID  *string `json:"project_id,omitempty"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	IsArchived bool    `json:"is_archived"`
}

// Dependency is an edge between two projects or actions.
type Dependency struct {
	ID         string `json:"id"`
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// ProjectResult is returned by project mutations. Warnings lists rollups
// that failed after the change was saved.
type ProjectResult struct {
	Project  Project  `json:"project"`
	Warnings []string `json:"warnings"`
}

// ActionResult is returned by action mutations.
type ActionResult struct {
	Action   Action   `json:"action"`
	Warnings []string `json:"warnings"`
}

// ReconcileResult summarizes a recompute pass.
type ReconcileResult struct {
	ProjectsChecked    int      `json:"projects_checked"`
	ProjectsRepaired   int      `json:"projects_repaired"`
	StrategiesChecked  int      `json:"strategies_checked"`
	StrategiesRepaired int      `json:"strategies_repaired"`
	Warnings           []string `json:"warnings"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateStrategy creates a strategy.
func (c *Client) CreateStrategy(ctx context.Context, title, ownerID string) (Strategy, error) {
	body := map[string]any{"title": title}
	if ownerID != "" {
		body["owner_id"] = ownerID
	}
	var resp Strategy
	err := c.do(ctx, http.MethodPost, "strategies", body, &resp)
	return resp, err
}

// GetStrategy fetches a strategy with its derived progress and status.
func (c *Client) GetStrategy(ctx context.Context, id string) (Strategy, error) {
	var resp Strategy
	err := c.do(ctx, http.MethodGet, "strategies/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// StrategyLifecycle is returned by complete and archive.
type StrategyLifecycle struct {
	Strategy            Strategy `json:"strategy"`
	DependenciesRemoved int      `json:"dependencies_removed"`
}

// CompleteStrategy marks a strategy completed.
func (c *Client) CompleteStrategy(ctx context.Context, id string) (StrategyLifecycle, error) {
	var resp StrategyLifecycle
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("strategies/%s/complete", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// ArchiveStrategy archives a completed strategy and its subtree.
func (c *Client) ArchiveStrategy(ctx context.Context, id string) (StrategyLifecycle, error) {
	var resp StrategyLifecycle
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("strategies/%s/archive", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// CreateProject creates a project under a strategy.
func (c *Client) CreateProject(ctx context.Context, strategyID, title, status string) (ProjectResult, error) {
	body := map[string]any{"strategy_id": strategyID, "title": title}
	if status != "" {
		body["status"] = status
	}
	var resp ProjectResult
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

// GetProject fetches a project.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ArchiveProject archives a project with its actions.
func (c *Client) ArchiveProject(ctx context.Context, id, reason string) (ProjectResult, error) {
	var resp ProjectResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%s/archive", url.PathEscape(id)), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// UnarchiveProject restores an archived project.
func (c *Client) UnarchiveProject(ctx context.Context, id, reason string) (ProjectResult, error) {
	var resp ProjectResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%s/unarchive", url.PathEscape(id)), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// CopyProject duplicates a project; asTemplate resets dates and values.
func (c *Client) CopyProject(ctx context.Context, id, newTitle string, asTemplate bool) (ProjectResult, error) {
	body := map[string]any{"as_template": asTemplate}
	if newTitle != "" {
		body["new_title"] = newTitle
	}
	var resp ProjectResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%s/copy", url.PathEscape(id)), body, &resp)
	return resp, err
}

// Snapshot is an archive or unarchive record; State is left raw.
type Snapshot struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	State   json.RawMessage `json:"state"`
	Reason  string          `json:"reason,omitempty"`
	ActorID string          `json:"actor_id"`
	TakenAt string          `json:"taken_at"`
	Seq     int64           `json:"seq"`
}

// ListSnapshots returns a project's archive history, newest first.
func (c *Client) ListSnapshots(ctx context.Context, projectID string) ([]Snapshot, error) {
	var resp []Snapshot
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%s/snapshots", url.PathEscape(projectID)), nil, &resp)
	return resp, err
}

// CreateAction creates an action; an empty projectID leaves it unassigned.
func (c *Client) CreateAction(ctx context.Context, projectID, title, status string) (ActionResult, error) {
	body := map[string]any{"title": title}
	if projectID != "" {
		body["project_id"] = projectID
	}
	if status != "" {
		body["status"] = status
	}
	var resp ActionResult
	err := c.do(ctx, http.MethodPost, "actions", body, &resp)
	return resp, err
}

// SetActionStatus changes an action's status and returns the rolled-up result.
func (c *Client) SetActionStatus(ctx context.Context, id, status string) (ActionResult, error) {
	var resp ActionResult
	err := c.do(ctx, http.MethodPatch, "actions/"+url.PathEscape(id), map[string]any{"status": status}, &resp)
	return resp, err
}

// CreateDependency links two entities.
func (c *Client) CreateDependency(ctx context.Context, sourceType, sourceID, targetType, targetID string) (Dependency, error) {
	body := map[string]any{
		"source_type": sourceType,
		"source_id":   sourceID,
		"target_type": targetType,
		"target_id":   targetID,
	}
	var resp Dependency
	err := c.do(ctx, http.MethodPost, "dependencies", body, &resp)
	return resp, err
}

// CollectDependencies removes every edge touching the given entities and
// returns how many were removed.
func (c *Client) CollectDependencies(ctx context.Context, projectIDs, actionIDs []string) (int, error) {
	body := map[string]any{"project_ids": projectIDs, "action_ids": actionIDs}
	var resp struct {
		Removed int `json:"removed"`
	}
	err := c.do(ctx, http.MethodPost, "dependencies/collect", body, &resp)
	return resp.Removed, err
}

// Recompute repairs derived values across the org.
func (c *Client) Recompute(ctx context.Context) (ReconcileResult, error) {
	var resp ReconcileResult
	err := c.do(ctx, http.MethodPost, "recompute", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(basePath, "/")
}
