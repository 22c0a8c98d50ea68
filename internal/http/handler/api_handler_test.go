package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/LinkVault/internal/app/model"
	"github.com/sifan077/LinkVault/internal/app/provider"
	"github.com/sifan077/LinkVault/internal/app/repository"
	"github.com/sifan077/LinkVault/internal/app/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	app     *fiber.App
	store   *repository.MemoryStore
	gateway *provider.Memory
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := repository.NewMemoryStore()
	gateway := provider.NewMemory("")
	issuer := service.NewLinkIssuer(service.IssuerDeps{
		Resources: store.Resources(),
		Links:     store.Links(),
		Gateway:   gateway,
	}, service.RetryPolicy{MaxAttempts: 1})
	recorder := service.NewRedemptionRecorder(service.RecorderDeps{
		Links:     store.Links(),
		Resources: store.Resources(),
		Users:     store.Users(),
	})

	app := fiber.New()
	NewHealthHandler(HealthDeps{}).Register(app)
	NewAPIHandler(APIDeps{
		Resources: service.NewResourceService(store.Resources(), nil, service.LinkDefaults{Validity: 5 * time.Minute, UsageBudget: 1}),
		Users:     service.NewUserService(store.Users(), store.Stats(), 7),
		Links:     store.Links(),
		Issuer:    issuer,
		Redeemer:  recorder,
	}).Register(app)
	return &testAPI{app: app, store: store, gateway: gateway}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestAPI_ResourceLifecycle(t *testing.T) {
	api := newTestAPI(t)

	status, body := api.do(t, http.MethodPost, "/api/resources", RegisterResourceRequest{ID: "-1001", Name: "VIP"})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "-1001", body["id"])
	assert.EqualValues(t, 300, body["link_validity_seconds"])
	assert.EqualValues(t, 1, body["usage_budget"])

	status, body = api.do(t, http.MethodPost, "/api/resources", RegisterResourceRequest{ID: "-1001", Name: "again"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "duplicate_resource", body["code"])

	status, _ = api.do(t, http.MethodPost, "/api/resources", RegisterResourceRequest{Name: "no id"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = api.do(t, http.MethodGet, "/api/resources", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])

	status, body = api.do(t, http.MethodGet, "/api/resources/-1001", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["active"])

	status, _ = api.do(t, http.MethodDelete, "/api/resources/-1001", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = api.do(t, http.MethodPost, "/api/resources/-1001/links", IssueLinkRequest{UserID: "u1"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "resource_unavailable", body["code"])

	status, body = api.do(t, http.MethodGet, "/api/resources/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["code"])
}

func TestAPI_IssueAndRedeem(t *testing.T) {
	api := newTestAPI(t)
	status, _ := api.do(t, http.MethodPost, "/api/resources", RegisterResourceRequest{ID: "chan", Name: "Channel"})
	require.Equal(t, http.StatusCreated, status)

	status, link := api.do(t, http.MethodPost, "/api/resources/chan/links", IssueLinkRequest{UserID: "u1", Username: "alice"})
	require.Equal(t, http.StatusCreated, status, link)
	token, _ := link["token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, "u1", link["issued_to"])
	assert.Equal(t, true, link["active"])
	assert.True(t, api.gateway.Live(token))

	status, active := api.do(t, http.MethodGet, "/api/resources/chan/links/active", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, token, active["token"])

	status, redeemed := api.do(t, http.MethodPost, "/api/redemptions", RecordRedemptionRequest{Token: token, UserID: "u1"})
	require.Equal(t, http.StatusOK, status, redeemed)
	assert.Equal(t, true, redeemed["exhausted"])

	status, body := api.do(t, http.MethodPost, "/api/redemptions", RecordRedemptionRequest{Token: token, UserID: "u2"})
	assert.Equal(t, http.StatusGone, status)
	assert.Equal(t, "link_not_redeemable", body["code"])

	status, body = api.do(t, http.MethodPost, "/api/redemptions", RecordRedemptionRequest{Token: "https://t.me/+bogus", UserID: "u2"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "unknown_token", body["code"])

	status, _ = api.do(t, http.MethodGet, "/api/resources/chan/links/active", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, stats := api.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, stats["total_users"])
	assert.EqualValues(t, 1, stats["total_joins"])
	assert.EqualValues(t, 1, stats["active_resources"])
}

func TestAPI_BannedUserCannotIssue(t *testing.T) {
	api := newTestAPI(t)
	status, _ := api.do(t, http.MethodPost, "/api/resources", RegisterResourceRequest{ID: "chan", Name: "Channel"})
	require.Equal(t, http.StatusCreated, status)

	status, user := api.do(t, http.MethodPost, "/api/users", TouchUserRequest{ID: "u1", Username: "mallory"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "mallory", user["username"])

	banned := true
	status, _ = api.do(t, http.MethodPut, "/api/users/u1/ban", BanUserRequest{Banned: &banned})
	require.Equal(t, http.StatusNoContent, status)

	status, body := api.do(t, http.MethodPost, "/api/resources/chan/links", IssueLinkRequest{UserID: "u1"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "user_banned", body["code"])

	status, _ = api.do(t, http.MethodPut, "/api/users/ghost/ban", BanUserRequest{Banned: &banned})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = api.do(t, http.MethodPut, "/api/users/u1/ban", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = api.do(t, http.MethodPost, "/api/resources/chan/links", IssueLinkRequest{})
	assert.Equal(t, http.StatusBadRequest, status)
}

type failingIssuer struct{}

func (failingIssuer) Issue(context.Context, string, string) (*model.Link, error) {
	return nil, fmt.Errorf("%w: %w", service.ErrProviderUnavailable, errors.New("upstream 502"))
}

func TestAPI_ProviderUnavailable(t *testing.T) {
	app := fiber.New()
	NewAPIHandler(APIDeps{Issuer: failingIssuer{}}).Register(app)

	req := httptest.NewRequest(http.MethodPost, "/api/resources/chan/links", bytes.NewBufferString(`{"user_id":"u1"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	app := fiber.New()
	NewHealthHandler(HealthDeps{Checks: map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return nil }),
	}}).Register(app)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	app = fiber.New()
	NewHealthHandler(HealthDeps{Checks: map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return errors.New("refused") }),
	}}).Register(app)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
