package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/app/repository"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/handoff"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/migration"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/quota"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/storage"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/usercontext"
)

type fakeProjects struct {
	mu        sync.Mutex
	next      uint
	rows      map[uint]models.Project
	createErr error
}

func newFakeProjects() *fakeProjects {
	return &fakeProjects{rows: map[uint]models.Project{}}
}

func (f *fakeProjects) Create(ctx context.Context, p *models.Project) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	p.ID = f.next
	f.rows[p.ID] = *p
	return nil
}

func (f *fakeProjects) GetByID(ctx context.Context, userID, id uint) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok || p.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (f *fakeProjects) ListByUser(ctx context.Context, userID uint) ([]models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Project
	for _, p := range f.rows {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProjects) Update(ctx context.Context, p *models.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[p.ID] = *p
	return nil
}

func (f *fakeProjects) Delete(ctx context.Context, userID, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.rows[id]; ok && p.UserID == userID {
		delete(f.rows, id)
	}
	return nil
}

type fakeTemplates struct {
	rows []models.PromptTemplate
}

func (f *fakeTemplates) Create(ctx context.Context, tpl *models.PromptTemplate) error {
	tpl.ID = uint(len(f.rows) + 1)
	f.rows = append(f.rows, *tpl)
	return nil
}

func (f *fakeTemplates) ListByUser(ctx context.Context, userID uint) ([]models.PromptTemplate, error) {
	return nil, nil
}

func (f *fakeTemplates) Update(ctx context.Context, tpl *models.PromptTemplate) error {
	return nil
}

func (f *fakeTemplates) Delete(ctx context.Context, userID, id uint) error {
	return nil
}

type fakeLedgers struct {
	ledger *models.QuotaLedger
}

func (f *fakeLedgers) Get(ctx context.Context, userID uint) (*models.QuotaLedger, error) {
	if f.ledger == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.ledger, nil
}

func (f *fakeLedgers) CreateIfNotExists(ctx context.Context, l *models.QuotaLedger) (*models.QuotaLedger, error) {
	if f.ledger == nil {
		f.ledger = l
	}
	return f.ledger, nil
}

func (f *fakeLedgers) Adjust(ctx context.Context, userID uint, fn func(l *models.QuotaLedger) error) (*models.QuotaLedger, error) {
	return f.ledger, fn(f.ledger)
}

type testEnv struct {
	app      *fiber.App
	projects *fakeProjects
	store    *storage.Memory
}

// newTestApp mounts the handlers behind a fake login for user 7.
func newTestApp(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{projects: newFakeProjects(), store: storage.NewMemory()}
	templates := &fakeTemplates{}
	Initialize(&Dependencies{
		Repos:    &repository.Repositories{Project: env.projects, PromptTemplate: templates},
		Quota:    quota.NewService(&fakeLedgers{}),
		Handoff:  handoff.New(handoff.NewMemory(), time.Minute),
		Migrator: migration.NewMigrator(env.projects, nil, nil, templates, env.store),
		Storage:  env.store,
		Now:      func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		usercontext.Set(c, usercontext.UserContext{UserID: 7, Username: "mia", IsLoggedIn: true, SessionID: "sess-1"})
		return c.Next()
	})
	app.Get("/projects", HandleListProjects)
	app.Post("/projects", HandleCreateProject)
	app.Get("/projects/:id", HandleGetProject)
	app.Put("/projects/:id", HandleUpdateProject)
	app.Delete("/projects/:id", HandleDeleteProject)
	app.Post("/templates", HandleCreateTemplate)
	app.Post("/quota/check", HandleQuotaCheck)
	app.Post("/handoff/view", HandleSaveView)
	app.Get("/handoff/view", HandleRestoreView)
	app.Post("/migration", HandleMigration)
	app.Get("/assets/signed-url", HandleSignedURL)
	env.app = app
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestProjectLifecycle(t *testing.T) {
	env := newTestApp(t)

	status, body := env.do(t, http.MethodPost, "/projects", `{"name":"Mugs","description":"ceramic"}`)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "Mugs", body["name"])
	assert.EqualValues(t, 7, body["user_id"])
	id := body["id"]
	require.NotNil(t, id)

	status, body = env.do(t, http.MethodPut, "/projects/1", `{"name":"Cups"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Cups", body["name"])

	status, body = env.do(t, http.MethodGet, "/projects", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["projects"], 1)

	status, _ = env.do(t, http.MethodDelete, "/projects/1", "")
	assert.Equal(t, fiber.StatusNoContent, status)

	// deleting again stays a success
	status, _ = env.do(t, http.MethodDelete, "/projects/1", "")
	assert.Equal(t, fiber.StatusNoContent, status)

	status, body = env.do(t, http.MethodGet, "/projects/1", "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, string(apperror.KindNotFound), body["error"])
}

func TestProjectsOfOtherUsersAreHidden(t *testing.T) {
	env := newTestApp(t)
	require.NoError(t, env.projects.Create(context.Background(), &models.Project{UserID: 99, Name: "theirs"}))

	status, _ := env.do(t, http.MethodGet, "/projects/1", "")
	assert.Equal(t, fiber.StatusNotFound, status)

	_, body := env.do(t, http.MethodGet, "/projects", "")
	assert.Empty(t, body["projects"])
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestApp(t)

	status, body := env.do(t, http.MethodPost, "/projects", `{"description":"no name"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, string(apperror.KindValidation), body["error"])
	assert.Contains(t, body["message"], "Name")

	status, _ = env.do(t, http.MethodGet, "/projects/abc", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestCreateProjectDatabaseFailure(t *testing.T) {
	env := newTestApp(t)
	env.projects.createErr = gorm.ErrInvalidDB

	status, body := env.do(t, http.MethodPost, "/projects", `{"name":"Mugs"}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, string(apperror.KindDatabase), body["error"])
}

func TestCreateTemplateRequiresPrompt(t *testing.T) {
	env := newTestApp(t)

	status, _ := env.do(t, http.MethodPost, "/templates", `{"name":"Flatlay"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body := env.do(t, http.MethodPost, "/templates", `{"name":"Flatlay","prompt":"top down","category":"studio"}`)
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "studio", body["category"])
}

func TestQuotaCheck(t *testing.T) {
	env := newTestApp(t)

	status, body := env.do(t, http.MethodPost, "/quota/check", `{"kind":"image_generation"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["allowed"])

	// video is not part of the free plan
	status, body = env.do(t, http.MethodPost, "/quota/check", `{"kind":"video_generation"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["allowed"])
	assert.Equal(t, string(apperror.KindNoCredits), body["reason"])

	status, _ = env.do(t, http.MethodPost, "/quota/check", `{"kind":"teleport"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestViewHandoffIsTakenOnce(t *testing.T) {
	env := newTestApp(t)

	status, _ := env.do(t, http.MethodPost, "/handoff/view", `{"view":"editor"}`)
	require.Equal(t, fiber.StatusNoContent, status)

	_, body := env.do(t, http.MethodGet, "/handoff/view", "")
	assert.Equal(t, "editor", body["view"])

	_, body = env.do(t, http.MethodGet, "/handoff/view", "")
	assert.Nil(t, body["view"])
}

func TestMigrationResponses(t *testing.T) {
	env := newTestApp(t)

	status, body := env.do(t, http.MethodPost, "/migration", `{"version":1,"projects":[]}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "nothing to migrate", body["message"])

	env.projects.createErr = apperror.New(apperror.KindDatabase, "")
	status, body = env.do(t, http.MethodPost, "/migration", `{"version":1,"projects":[{"name":"Old"}]}`)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["errors"])

	env.projects.createErr = nil
	status, body = env.do(t, http.MethodPost, "/migration", `{"version":1,"projects":[{"name":"Old"}]}`)
	assert.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["projects_migrated"])
}

func TestSignedURLChecksOwnership(t *testing.T) {
	env := newTestApp(t)
	require.NoError(t, env.store.Upload(context.Background(), "users/7/mockups/a.png", []byte("x"), "image/png"))
	require.NoError(t, env.store.Upload(context.Background(), "users/8/mockups/b.png", []byte("x"), "image/png"))

	status, body := env.do(t, http.MethodGet, "/assets/signed-url?path=users/7/mockups/a.png", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body["url"], "users/7/mockups/a.png")
	assert.Equal(t, "2026-03-01T12:15:00Z", body["expires_at"])

	status, _ = env.do(t, http.MethodGet, "/assets/signed-url?path=users/8/mockups/b.png", "")
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = env.do(t, http.MethodGet, "/assets/signed-url", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestFormatTimePtr(t *testing.T) {
	assert.Nil(t, formatTimePtr(nil))
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "2026-01-02T02:04:05Z", formatTimePtr(&ts))
}
