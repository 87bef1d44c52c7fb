package echo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/docflow/domain"
	"go.pilab.hu/docflow/internal/memstore"
	"go.pilab.hu/docflow/log"
)

func setupAPI(t *testing.T, health HealthCheck) (*echo.Echo, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "docflow_test_total", Help: "test"}))

	e := echo.New()
	NewDocumentAPI(store, log.NewNopLogger(), health, reg).RegisterRoutes(e)
	return e, store
}

func serve(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeMeta(t *testing.T, rec *httptest.ResponseRecorder) domain.Meta {
	t.Helper()
	var meta domain.Meta
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	return meta
}

func TestConfirmHandler_CreatesClickedConfirm(t *testing.T) {
	e, store := setupAPI(t, nil)

	rec := serve(e, http.MethodGet, "/confirm?device_code=dc-1&code=abc", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	meta := decodeMeta(t, rec)
	assert.NotEmpty(t, meta.ID)
	assert.NotEmpty(t, meta.Rev)

	raw, err := store.Get(context.Background(), meta.ID)
	require.NoError(t, err)
	var confirm domain.Confirm
	require.NoError(t, raw.Decode(&confirm))
	assert.Equal(t, domain.DocTypeConfirm, confirm.Type)
	assert.Equal(t, domain.ConfirmStateClicked, confirm.State)
	assert.Equal(t, "dc-1", confirm.DeviceCode)
	assert.Equal(t, "abc", confirm.ConfirmCode)
}

func TestConfirmHandler_RequiresBothCodes(t *testing.T) {
	e, _ := setupAPI(t, nil)

	rec := serve(e, http.MethodGet, "/confirm?device_code=dc-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestCreateDeviceHandler(t *testing.T) {
	e, store := setupAPI(t, nil)

	rec := serve(e, http.MethodPost, "/devices", `{"_id":"d1","owner":"alice@example.com","device_code":"dc-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "d1", decodeMeta(t, rec).ID)

	raw, err := store.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.DocTypeDevice, raw.Type)
	assert.Equal(t, domain.DeviceStateNew, raw.State)

	rec = serve(e, http.MethodPost, "/devices", `{"_id":"d1","owner":"alice@example.com","device_code":"dc-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(e, http.MethodPost, "/devices", `{"owner":"alice@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateChannelHandler(t *testing.T) {
	e, store := setupAPI(t, nil)

	rec := serve(e, http.MethodPost, "/channels", `{"name":"news","public":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	meta := decodeMeta(t, rec)

	raw, err := store.Get(context.Background(), meta.ID)
	require.NoError(t, err)
	var ch domain.Channel
	require.NoError(t, raw.Decode(&ch))
	assert.Equal(t, "news", ch.Name)
	assert.True(t, ch.Public)
	assert.Equal(t, domain.ChannelStateNew, ch.State)

	rec = serve(e, http.MethodPost, "/channels", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetHandler_HidesSecrets(t *testing.T) {
	e, store := setupAPI(t, nil)
	require.NoError(t, store.Put(context.Background(), &domain.Device{
		Meta:        domain.Meta{ID: "d1", Type: domain.DocTypeDevice, State: domain.DeviceStateConfirming},
		Owner:       "alice@example.com",
		DeviceCode:  "dc-1",
		ConfirmCode: "secret-code",
		OAuthCreds:  &domain.OAuthCredentials{ConsumerKey: "ck", ConsumerSecret: "cs", Token: "tk", TokenSecret: "ts"},
	}))

	rec := serve(e, http.MethodGet, "/docs/d1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"state":"confirming"`)
	assert.NotContains(t, body, "secret-code")
	assert.NotContains(t, body, "oauth_creds")

	rec = serve(e, http.MethodGet, "/docs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListHandler_FiltersByType(t *testing.T) {
	e, store := setupAPI(t, nil)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, &domain.Channel{Meta: domain.Meta{ID: "c1", Type: domain.DocTypeChannel, State: domain.ChannelStateNew}, Name: "a"}))
	require.NoError(t, store.Put(ctx, &domain.Device{Meta: domain.Meta{ID: "d1", Type: domain.DocTypeDevice, State: domain.DeviceStateNew}}))

	rec := serve(e, http.MethodGet, "/docs?type=channel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var metas []domain.Meta
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metas))
	require.Len(t, metas, 1)
	assert.Equal(t, "c1", metas[0].ID)

	rec = serve(e, http.MethodGet, "/docs", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metas))
	assert.Len(t, metas, 2)
}

func TestHealthHandler(t *testing.T) {
	e, _ := setupAPI(t, func(context.Context) error { return nil })
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/health", "").Code)

	e, _ = setupAPI(t, func(context.Context) error { return errors.New("no primary") })
	assert.Equal(t, http.StatusServiceUnavailable, serve(e, http.MethodGet, "/health", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	e, _ := setupAPI(t, nil)

	rec := serve(e, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docflow_test_total")
}
