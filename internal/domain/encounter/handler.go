package encounter

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dmvault/dmvault/internal/platform/auth"
	"github.com/dmvault/dmvault/internal/platform/middleware"
	"github.com/dmvault/dmvault/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/encounters", h.ListEncounters)
	api.GET("/encounters/:id", h.GetEncounter)
	api.POST("/encounters", h.CreateEncounter)
	api.PUT("/encounters/:id", h.UpdateEncounter)
	api.DELETE("/encounters/:id", h.DeleteEncounter)

	api.POST("/characters", h.CreateCharacter)
	api.GET("/characters/:id", h.GetCharacter)
}

// toHTTPError maps domain errors onto status codes. Unknown errors never leak
// their message.
func toHTTPError(err error) error {
	var rej *RejectionError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "encounter not found")
	case errors.Is(err, ErrCharacterNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "character not found")
	case errors.Is(err, ErrAccessDenied):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	case errors.As(err, &rej):
		return echo.NewHTTPError(http.StatusBadRequest, middleware.ErrorBody{Error: rej.Message, Details: rej.Details})
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, middleware.InternalErrorMessage).SetInternal(err)
	}
}

func requireUser(c echo.Context) (string, error) {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return userID, nil
}

func (h *Handler) CreateEncounter(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	var enc Encounter
	if err := c.Bind(&enc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enc.ID = uuid.Nil
	enc.OwnerID = userID
	enc.IsTemplate = false
	if err := h.svc.CreateEncounter(c.Request().Context(), &enc); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, enc)
}

func (h *Handler) GetEncounter(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	enc, err := h.svc.GetEncounterForUser(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) ListEncounters(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	encs, total, err := h.svc.ListEncounters(c.Request().Context(), userID, pg.Limit, pg.Offset)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(encs, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) UpdateEncounter(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	existing, err := h.svc.GetEncounter(ctx, c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	if existing.OwnerID != userID {
		return toHTTPError(ErrAccessDenied)
	}

	var enc Encounter
	if err := c.Bind(&enc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enc.ID = existing.ID
	enc.OwnerID = existing.OwnerID
	enc.CreatedAt = existing.CreatedAt
	if err := h.svc.UpdateEncounter(ctx, &enc); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) DeleteEncounter(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	existing, err := h.svc.GetEncounter(ctx, c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	if existing.OwnerID != userID {
		return toHTTPError(ErrAccessDenied)
	}
	if err := h.svc.DeleteEncounter(ctx, existing.ID.String()); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateCharacter(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	var ch Character
	if err := c.Bind(&ch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ch.ID = uuid.Nil
	ch.OwnerID = userID
	if err := h.svc.CreateCharacter(c.Request().Context(), &ch); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, ch)
}

func (h *Handler) GetCharacter(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	ch, err := h.svc.GetCharacter(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	if ch.OwnerID != userID {
		return toHTTPError(ErrAccessDenied)
	}
	return c.JSON(http.StatusOK, ch)
}
