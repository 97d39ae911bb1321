package transfer

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dmvault/dmvault/internal/domain/encounter"
	"github.com/dmvault/dmvault/internal/platform/auth"
	"github.com/dmvault/dmvault/internal/platform/middleware"
)

type Handler struct {
	orch *Orchestrator
}

func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// RegisterRoutes mounts the transfer endpoints. The static /encounters/backup
// path takes precedence over the encounter CRUD /encounters/:id route.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/encounters/:id/export", h.ExportEncounter)
	api.POST("/encounters/import", h.ImportEncounter)
	api.GET("/encounters/backup", h.CreateBackup)
	api.POST("/encounters/restore", h.RestoreBackup)
	api.POST("/encounters/batch", h.RunBatch)
}

// toHTTPError renders an orchestrator error. Internal causes stay in the
// echo error's internal field for the request logger.
func toHTTPError(err error) error {
	var te *Error
	if !errors.As(err, &te) {
		te = classify(err, KindInternal)
	}
	status := te.Kind.HTTPStatus()
	if te.Kind == KindInternal {
		return echo.NewHTTPError(status, middleware.InternalErrorMessage).SetInternal(te.Err)
	}
	body := middleware.ErrorBody{Error: te.Message}
	if len(te.Details) > 0 {
		body.Details = te.Details
	}
	return echo.NewHTTPError(status, body)
}

func badRequest(err error) error {
	return echo.NewHTTPError(http.StatusBadRequest, middleware.ErrorBody{Error: msgInvalidRequest, Details: []string{err.Error()}})
}

func requireUser(c echo.Context) (string, error) {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return "", toHTTPError(unauthenticated())
	}
	return userID, nil
}

func attachment(c echo.Context, p *Payload) error {
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", p.Filename))
	return c.Blob(http.StatusOK, p.ContentType, p.Data)
}

type exportQuery struct {
	Format string
	encounter.ExportOptions
}

func (h *Handler) ExportEncounter(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	var q exportQuery
	err = echo.QueryParamsBinder(c).
		String("format", &q.Format).
		Bool("includeCharacterSheets", &q.IncludeCharacterSheets).
		Bool("includePrivateNotes", &q.IncludePrivateNotes).
		Bool("includeIds", &q.IncludeIDs).
		Bool("stripPersonalData", &q.StripPersonalData).
		BindError()
	if err != nil {
		return badRequest(err)
	}

	p, err := h.orch.Export(c.Request().Context(), c.Param("id"), userID, q.Format, q.ExportOptions)
	if err != nil {
		return toHTTPError(err)
	}
	return attachment(c, p)
}

// importFlags carries the optional import switches of a request body. Unset
// fields keep their defaults.
type importFlags struct {
	PreserveIDs             *bool `json:"preserveIds"`
	CreateMissingCharacters *bool `json:"createMissingCharacters"`
	OverwriteExisting       *bool `json:"overwriteExisting"`
}

func (f importFlags) apply(preserveIDs, createMissing, overwrite *bool) {
	if f.PreserveIDs != nil {
		*preserveIDs = *f.PreserveIDs
	}
	if f.CreateMissingCharacters != nil {
		*createMissing = *f.CreateMissingCharacters
	}
	if f.OverwriteExisting != nil {
		*overwrite = *f.OverwriteExisting
	}
}

type importRequest struct {
	Data    string       `json:"data"`
	Format  string       `json:"format"`
	Options *importFlags `json:"options"`
}

type importResponse struct {
	Success   bool              `json:"success"`
	Encounter *EncounterSummary `json:"encounter"`
}

func (h *Handler) ImportEncounter(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	var req importRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err)
	}

	opts := encounter.DefaultImportOptions(userID)
	if req.Options != nil {
		req.Options.apply(&opts.PreserveIDs, &opts.CreateMissingCharacters, &opts.OverwriteExisting)
	}

	summary, err := h.orch.Import(c.Request().Context(), req.Data, req.Format, opts)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, importResponse{Success: true, Encounter: summary})
}

func (h *Handler) CreateBackup(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	var opts BackupOptions
	err = echo.QueryParamsBinder(c).
		String("format", &opts.Format).
		Bool("includeCharacterSheets", &opts.IncludeCharacterSheets).
		Bool("includePrivateNotes", &opts.IncludePrivateNotes).
		String("compress", &opts.Compress).
		BindError()
	if err != nil {
		return badRequest(err)
	}

	p, err := h.orch.CreateBackup(c.Request().Context(), userID, opts)
	if err != nil {
		return toHTTPError(err)
	}
	return attachment(c, p)
}

type restoreFlags struct {
	importFlags
	SelectiveRestore []string `json:"selectiveRestore"`
}

type restoreRequest struct {
	BackupData string        `json:"backupData"`
	Format     string        `json:"format"`
	Options    *restoreFlags `json:"options"`
}

type restoreResponse struct {
	Success bool `json:"success"`
	*RestoreResult
}

func (h *Handler) RestoreBackup(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	var req restoreRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err)
	}

	opts := DefaultRestoreOptions(userID)
	if req.Options != nil {
		req.Options.apply(&opts.PreserveIDs, &opts.CreateMissingCharacters, &opts.OverwriteExisting)
		opts.SelectiveRestore = req.Options.SelectiveRestore
	}

	result, err := h.orch.Restore(c.Request().Context(), req.BackupData, req.Format, opts)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, restoreResponse{Success: true, RestoreResult: result})
}

type batchRequest struct {
	Operation    string       `json:"operation"`
	EncounterIDs []string     `json:"encounterIds"`
	Options      BatchOptions `json:"options"`
}

func (h *Handler) RunBatch(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err)
	}

	op, err := ParseOperation(req.Operation, req.Options)
	if err != nil {
		return toHTTPError(err)
	}
	resp, err := h.orch.RunBatch(c.Request().Context(), op, req.EncounterIDs, userID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, resp)
}
