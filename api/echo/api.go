//nolint:varnamelen
package echo

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.pilab.hu/docflow/domain"
	serrors "go.pilab.hu/docflow/errors"
	"go.pilab.hu/docflow/log"
)

// HealthCheck reports whether the document store is reachable.
type HealthCheck func(ctx context.Context) error

// DocumentAPI is the HTTP shell around the document store: it creates the
// documents that start workflows and exposes their state.
type DocumentAPI struct {
	docs     domain.DocumentStore
	log      log.Logger
	health   HealthCheck
	gatherer prometheus.Gatherer
}

// NewDocumentAPI initializes the API. A nil gatherer serves the default registry.
func NewDocumentAPI(docs domain.DocumentStore, logger log.Logger, health HealthCheck, gatherer prometheus.Gatherer) *DocumentAPI {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &DocumentAPI{
		docs:     docs,
		log:      logger,
		health:   health,
		gatherer: gatherer,
	}
}

// RegisterRoutes registers the document routes.
func (a *DocumentAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/confirm", a.ConfirmHandler)
	e.POST("/devices", a.CreateDeviceHandler)
	e.POST("/channels", a.CreateChannelHandler)
	e.GET("/docs", a.ListHandler)
	e.GET("/docs/:id", a.GetHandler)

	e.GET("/health", a.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))
}

// ConfirmHandler is the target of the emailed confirmation link. It records
// the click as a confirm document; the pairing workflow does the matching.
func (a *DocumentAPI) ConfirmHandler(c echo.Context) error {
	deviceCode := c.QueryParam("device_code")
	code := c.QueryParam("code")
	if deviceCode == "" || code == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("device_code and code are required"))
	}

	confirm := &domain.Confirm{
		Meta: domain.Meta{
			ID:    uuid.NewString(),
			Type:  domain.DocTypeConfirm,
			State: domain.ConfirmStateClicked,
		},
		DeviceCode:  deviceCode,
		ConfirmCode: code,
	}
	if err := a.docs.Put(c.Request().Context(), confirm); err != nil {
		return a.storeError(c, "create confirm", err)
	}

	return c.JSON(http.StatusAccepted, confirm.Meta)
}

type createDeviceRequest struct {
	ID         string                   `json:"_id"`
	Owner      string                   `json:"owner"`
	DeviceCode string                   `json:"device_code"`
	OAuthCreds *domain.OAuthCredentials `json:"oauth_creds,omitempty"`
}

// CreateDeviceHandler registers a device in state new, which starts pairing.
func (a *DocumentAPI) CreateDeviceHandler(c echo.Context) error {
	var req createDeviceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("malformed body"))
	}
	if req.Owner == "" || req.DeviceCode == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("owner and device_code are required"))
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	dev := &domain.Device{
		Meta: domain.Meta{
			ID:    req.ID,
			Type:  domain.DocTypeDevice,
			State: domain.DeviceStateNew,
		},
		Owner:      req.Owner,
		DeviceCode: req.DeviceCode,
		OAuthCreds: req.OAuthCreds,
	}
	if err := a.docs.Put(c.Request().Context(), dev); err != nil {
		return a.storeError(c, "create device", err)
	}

	return c.JSON(http.StatusCreated, dev.Meta)
}

type createChannelRequest struct {
	ID     string `json:"_id"`
	Name   string `json:"name"`
	Public bool   `json:"public"`
}

// CreateChannelHandler registers a channel in state new.
func (a *DocumentAPI) CreateChannelHandler(c echo.Context) error {
	var req createChannelRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("malformed body"))
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("name is required"))
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ch := &domain.Channel{
		Meta: domain.Meta{
			ID:    req.ID,
			Type:  domain.DocTypeChannel,
			State: domain.ChannelStateNew,
		},
		Name:   req.Name,
		Public: req.Public,
	}
	if err := a.docs.Put(c.Request().Context(), ch); err != nil {
		return a.storeError(c, "create channel", err)
	}

	return c.JSON(http.StatusCreated, ch.Meta)
}

// GetHandler returns a document without its secrets.
func (a *DocumentAPI) GetHandler(c echo.Context) error {
	raw, err := a.docs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return a.storeError(c, "get document", err)
	}

	view, err := publicView(raw)
	if err != nil {
		return a.storeError(c, "decode document", err)
	}

	return c.JSON(http.StatusOK, view)
}

// ListHandler lists document headers, optionally filtered by ?type=.
func (a *DocumentAPI) ListHandler(c echo.Context) error {
	docs, err := a.docs.List(c.Request().Context(), domain.ListOptions{
		Type: domain.DocType(c.QueryParam("type")),
	})
	if err != nil {
		return a.storeError(c, "list documents", err)
	}

	metas := make([]domain.Meta, 0, len(docs))
	for _, d := range docs {
		metas = append(metas, d.Meta)
	}

	return c.JSON(http.StatusOK, metas)
}

// HealthHandler answers 200 when the store is reachable.
func (a *DocumentAPI) HealthHandler(c echo.Context) error {
	if a.health != nil {
		if err := a.health(c.Request().Context()); err != nil {
			a.log.Warn(c.Request().Context(), "health check failed", map[string]interface{}{"error": err.Error()})
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (a *DocumentAPI) storeError(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, serrors.ErrNotFound):
		return c.JSON(http.StatusNotFound, &serrors.WorkflowError{Code: "not_found", Description: c.Param("id")})
	case errors.Is(err, serrors.ErrConflict):
		return c.JSON(http.StatusConflict, &serrors.WorkflowError{Code: "conflict", Description: "document already exists"})
	}
	a.log.Error(c.Request().Context(), op+" failed", err)
	return c.JSON(http.StatusInternalServerError, &serrors.WorkflowError{Code: "server_error"})
}

// publicView decodes raw into its concrete type and drops confirmation codes
// and OAuth secrets.
func publicView(raw domain.RawDocument) (any, error) {
	switch raw.Type {
	case domain.DocTypeDevice:
		var dev domain.Device
		if err := raw.Decode(&dev); err != nil {
			return nil, err
		}
		dev.ConfirmCode = ""
		dev.OAuthCreds = nil
		return dev, nil
	case domain.DocTypeConfirm:
		var confirm domain.Confirm
		if err := raw.Decode(&confirm); err != nil {
			return nil, err
		}
		confirm.ConfirmCode = ""
		return confirm, nil
	case domain.DocTypeChannel:
		var ch domain.Channel
		if err := raw.Decode(&ch); err != nil {
			return nil, err
		}
		return ch, nil
	default:
		return raw.Meta, nil
	}
}
