package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/palisade-gg/palisade/internal/configstore"
	"github.com/palisade-gg/palisade/internal/dispatch"
	"github.com/palisade-gg/palisade/internal/registry"
)

type Handlers struct {
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Configs    registry.ConfigStore
}

func (h *Handlers) HandleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleDecision accepts one decision from the upstream report workflow and
// fans it out. Branch failures are reported out of band, so partial failure
// still answers 202.
func (h *Handlers) HandleDecision(c echo.Context) error {
	var decision registry.Decision
	if err := c.Bind(&decision); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid decision payload")
	}
	if decision.PlayerID == "" || decision.CommunityID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "player_id and community_id are required")
	}
	if registry.ClassifyPlayerID(decision.PlayerID) == registry.PlayerIDUnknown {
		return echo.NewHTTPError(http.StatusBadRequest, "player_id must be a steam64 id or a 32-hex uuid")
	}

	if err := h.Dispatcher.HandleDecision(c.Request().Context(), decision); err != nil {
		var branches *dispatch.BranchFailures
		if !errors.As(err, &branches) {
			return h.mapError(err)
		}
		slog.Warn("decision accepted with failed branches",
			"community_id", decision.CommunityID, "player_id", decision.PlayerID, "err", err)
	}
	return c.NoContent(http.StatusAccepted)
}

// HandleRetry replays a previously captured command.
func (h *Handlers) HandleRetry(c echo.Context) error {
	var cmd registry.Command
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid command payload")
	}
	if cmd.IntegrationID == 0 || cmd.PlayerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "integration_id and player_id are required")
	}

	if err := h.Dispatcher.Retry(c.Request().Context(), cmd); err != nil {
		return h.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type integrationView struct {
	ID          int64     `json:"id"`
	CommunityID int64     `json:"community_id"`
	Kind        string    `json:"kind"`
	Enabled     bool      `json:"enabled"`
	CreatedOn   time.Time `json:"created_on"`
	UpdatedOn   time.Time `json:"updated_on"`
}

func toView(cfg registry.Config) integrationView {
	return integrationView{
		ID:          cfg.ID,
		CommunityID: cfg.CommunityID,
		Kind:        string(cfg.Kind),
		Enabled:     cfg.Enabled,
		CreatedOn:   cfg.CreatedOn,
		UpdatedOn:   cfg.UpdatedOn,
	}
}

func (h *Handlers) HandleListIntegrations(c echo.Context) error {
	ctx := c.Request().Context()

	var (
		cfgs []registry.Config
		err  error
	)
	if raw := c.QueryParam("community_id"); raw != "" {
		communityID, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid community_id")
		}
		cfgs, err = h.Configs.IntegrationsByCommunity(ctx, communityID)
	} else {
		cfgs, err = h.Configs.Integrations(ctx)
	}
	if err != nil {
		return h.mapError(err)
	}

	views := make([]integrationView, 0, len(cfgs))
	for _, cfg := range cfgs {
		views = append(views, toView(cfg))
	}
	return c.JSON(http.StatusOK, views)
}

type createIntegrationRequest struct {
	CommunityID int64           `json:"community_id"`
	Kind        string          `json:"kind"`
	Settings    json.RawMessage `json:"settings"`
}

func (h *Handlers) HandleCreateIntegration(c echo.Context) error {
	var req createIntegrationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid integration payload")
	}

	kind, ok := registry.ParseKind(req.Kind)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown integration kind")
	}
	if req.CommunityID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "community_id is required")
	}

	def, ok := h.Registry.Definition(kind)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown integration kind")
	}
	settings, err := def.DecodeSettings(req.Settings)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid settings: "+err.Error())
	}
	if err := def.ValidateSettings(settings); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	encoded, err := configstore.EncodeConfig(settings)
	if err != nil {
		return h.mapError(err)
	}

	integ, err := h.Registry.Create(c.Request().Context(), registry.Config{
		CommunityID: req.CommunityID,
		Kind:        kind,
		Settings:    encoded,
	})
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusCreated, toView(integ.Config()))
}

func (h *Handlers) HandleGetIntegration(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	cfg, err := h.Configs.Integration(c.Request().Context(), id)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, toView(cfg))
}

type updateIntegrationRequest struct {
	Settings json.RawMessage `json:"settings"`
}

// HandleUpdateIntegration folds new settings into the stored ones. Secrets
// left blank in the update keep their stored values.
func (h *Handlers) HandleUpdateIntegration(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var req updateIntegrationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid integration payload")
	}

	ctx := c.Request().Context()
	cfg, err := h.Configs.Integration(ctx, id)
	if err != nil {
		return h.mapError(err)
	}

	def, ok := h.Registry.Definition(cfg.Kind)
	if !ok {
		return h.mapError(registry.ErrUnknownKind)
	}
	existing, err := def.DecodeSettings(cfg.Settings)
	if err != nil {
		return h.mapError(err)
	}
	update, err := def.DecodeSettings(req.Settings)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid settings: "+err.Error())
	}

	merged := def.MergeSettings(existing, update)
	if err := def.ValidateSettings(merged); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	encoded, err := configstore.EncodeConfig(merged)
	if err != nil {
		return h.mapError(err)
	}
	cfg.Settings = encoded

	// Persist first, then apply to the live instance, so a failed persist
	// never leaves the running integration on unsaved settings.
	if err := h.Configs.UpdateIntegration(ctx, cfg); err != nil {
		return h.mapError(err)
	}
	if _, err := h.Registry.Load(cfg); err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, toView(cfg))
}

func (h *Handlers) HandleRemoveIntegration(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := h.Registry.Remove(c.Request().Context(), id); err != nil {
		return h.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) HandleEnableIntegration(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := h.Registry.Enable(c.Request().Context(), id); err != nil {
		return h.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) HandleDisableIntegration(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	removeBans := c.QueryParam("remove_bans") == "true"
	if err := h.Registry.Disable(c.Request().Context(), id, removeBans); err != nil {
		return h.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid integration id")
	}
	return id, nil
}

func (h *Handlers) mapError(err error) error {
	var validationErr *registry.ValidationError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrAlreadyExists),
		errors.Is(err, registry.ErrDuplicateID),
		errors.Is(err, registry.ErrAlreadyEnabled),
		errors.Is(err, registry.ErrAlreadyDisabled),
		errors.Is(err, registry.ErrTooManyIntegrations):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrUnknownKind):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &validationErr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, validationErr.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
