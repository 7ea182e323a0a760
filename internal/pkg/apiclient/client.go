// Package apiclient talks to the MockupSuite JSON API on behalf of mockupctl.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/migration"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/oauth"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/syncqueue"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client authenticating with a bearer token (JWT or API key).
func New(baseURL, token string) *Client {
	base := &http.Client{Timeout: defaultTimeout}
	hc := base
	if token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
		hc.Timeout = defaultTimeout
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// WithHTTPClient replaces the transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// HealthURL is what the connectivity monitor probes.
func (c *Client) HealthURL() string {
	return c.baseURL + "/healthz"
}

type ProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type TemplateInput struct {
	Name     string `json:"name"`
	Prompt   string `json:"prompt"`
	Category string `json:"category,omitempty"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken exchanges credentials for a bearer token.
func (c *Client) IssueToken(ctx context.Context, email, password string) (*TokenResponse, error) {
	var out TokenResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/token", map[string]string{"email": email, "password": password}, &out)
	return &out, err
}

func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	var out struct {
		Projects []models.Project `json:"projects"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/projects", nil, &out)
	return out.Projects, err
}

func (c *Client) CreateProject(ctx context.Context, in ProjectInput) (*models.Project, error) {
	var out models.Project
	if err := c.do(ctx, http.MethodPost, "/api/v1/projects", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProject(ctx context.Context, id uint, in ProjectInput) (*models.Project, error) {
	var out models.Project
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/projects/%d", id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteProject(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/projects/%d", id), nil, nil)
}

func (c *Client) CreateTemplate(ctx context.Context, in TemplateInput) (*models.PromptTemplate, error) {
	var out models.PromptTemplate
	if err := c.do(ctx, http.MethodPost, "/api/v1/templates", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateTemplate(ctx context.Context, id uint, in TemplateInput) (*models.PromptTemplate, error) {
	var out models.PromptTemplate
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/templates/%d", id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteTemplate(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/templates/%d", id), nil, nil)
}

type Integration struct {
	Slug      string  `json:"slug"`
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	Connected bool    `json:"connected"`
	Since     *string `json:"connected_at"`
}

func (c *Client) ListIntegrations(ctx context.Context) ([]Integration, error) {
	var out struct {
		Integrations []Integration `json:"integrations"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/integrations", nil, &out)
	return out.Integrations, err
}

// Connect starts a popup authorization for slug.
func (c *Client) Connect(ctx context.Context, slug string, settings map[string]string) (*oauth.Authorization, error) {
	in := map[string]interface{}{"transport": oauth.TransportPopup}
	if len(settings) > 0 {
		in["settings"] = settings
	}
	var out oauth.Authorization
	if err := c.do(ctx, http.MethodPost, "/api/v1/integrations/"+url.PathEscape(slug)+"/connect", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HandshakeStatus is one answer of the handshake long-poll.
type HandshakeStatus struct {
	Phase    oauth.Phase `json:"phase"`
	Platform string      `json:"platform"`
	Error    string      `json:"error"`
}

// AwaitHandshake long-polls the server once. A still pending handshake
// comes back with PhaseAwaitingProvider.
func (c *Client) AwaitHandshake(ctx context.Context, slug, state string) (*HandshakeStatus, error) {
	path := fmt.Sprintf("/api/v1/integrations/%s/handshake/%s?platform=%s",
		url.PathEscape(slug), url.PathEscape(state), url.QueryEscape(slug))
	var out HandshakeStatus
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CloseHandshake(ctx context.Context, slug, state string) error {
	path := fmt.Sprintf("/api/v1/integrations/%s/handshake/%s/close?platform=%s",
		url.PathEscape(slug), url.PathEscape(state), url.QueryEscape(slug))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// Migrate uploads a legacy export. The server reports per-item errors in
// the result; only transport and auth failures come back as err.
func (c *Client) Migrate(ctx context.Context, legacy *migration.LegacyExport) (*migration.Result, error) {
	var out migration.Result
	if err := c.do(ctx, http.MethodPost, "/api/v1/migration", legacy, &out); err != nil {
		// a failed run still answers with a result body
		if out.Errors != nil {
			return &out, nil
		}
		return nil, err
	}
	return &out, nil
}

// Apply implements syncqueue.Applier.
func (c *Client) Apply(ctx context.Context, ch syncqueue.Change) (uint, error) {
	if ch.Action != syncqueue.ActionCreate && !ch.Target.IsCommitted() {
		return 0, apperror.Newf(apperror.KindValidation, "%s still references an unsaved item", ch.Describe())
	}
	id := ch.Target.ID()

	switch ch.Entity {
	case syncqueue.EntityProject:
		var in ProjectInput
		if err := decodePayload(ch, &in); err != nil {
			return 0, err
		}
		switch ch.Action {
		case syncqueue.ActionCreate:
			p, err := c.CreateProject(ctx, in)
			if err != nil {
				return 0, err
			}
			return p.ID, nil
		case syncqueue.ActionUpdate:
			_, err := c.UpdateProject(ctx, id, in)
			return id, err
		case syncqueue.ActionDelete:
			return id, c.DeleteProject(ctx, id)
		}
	case syncqueue.EntityTemplate:
		var in TemplateInput
		if err := decodePayload(ch, &in); err != nil {
			return 0, err
		}
		switch ch.Action {
		case syncqueue.ActionCreate:
			t, err := c.CreateTemplate(ctx, in)
			if err != nil {
				return 0, err
			}
			return t.ID, nil
		case syncqueue.ActionUpdate:
			_, err := c.UpdateTemplate(ctx, id, in)
			return id, err
		case syncqueue.ActionDelete:
			return id, c.DeleteTemplate(ctx, id)
		}
	}
	return 0, apperror.Newf(apperror.KindValidation, "cannot apply %s", ch.Describe())
}

func decodePayload(ch syncqueue.Change, out interface{}) error {
	if ch.Action == syncqueue.ActionDelete || len(ch.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(ch.Payload, out); err != nil {
		return apperror.Wrap(apperror.KindValidation, err, "malformed change payload")
	}
	return nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperror.Wrap(apperror.KindNetwork, err, "server unreachable")
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return apperror.Wrap(apperror.KindNetwork, err, "reading response failed")
	}

	if resp.StatusCode >= 300 {
		// the migration endpoint answers 422 with a full result
		if out != nil && resp.StatusCode == http.StatusUnprocessableEntity {
			_ = json.Unmarshal(data, out)
		}
		return responseError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// responseError keeps the server's categorization when the body carries one.
func responseError(status int, data []byte) error {
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil && eb.Error != "" {
		if kind := apperror.Kind(eb.Error); kind.Known() {
			return apperror.New(kind, eb.Message)
		}
	}
	return apperror.FromHTTPStatus(status, strings.TrimSpace(eb.Message))
}
