package api

import (
	"context"
	"time"

	models "AgentFlow/internal/domain/models"
	"AgentFlow/internal/usecase"
	xhttp "AgentFlow/pkg/http"
	xlogger "AgentFlow/pkg/logger"
	xutil "AgentFlow/pkg/util"

	"github.com/labstack/echo/v4"
)

// RelayStatus reports whether the peer link is up.
type RelayStatus interface {
	Connected() bool
}

// AgentsHandler serves the status and control API.
type AgentsHandler struct {
	logger *xlogger.Logger
	orch   *usecase.Orchestrator
	bus    *usecase.SignalBus
	coord  *usecase.ExecutionCoordinator
	relay  RelayStatus
}

// NewAgentsHandler builds the handler. coord and relay may be nil when disabled.
func NewAgentsHandler(
	logger *xlogger.Logger,
	orch *usecase.Orchestrator,
	bus *usecase.SignalBus,
	coord *usecase.ExecutionCoordinator,
	relay RelayStatus,
) *AgentsHandler {
	return &AgentsHandler{logger: logger.Named("api"), orch: orch, bus: bus, coord: coord, relay: relay}
}

func (h *AgentsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/agents", h.ListAgents)
	g.GET("/agents/:id", h.GetAgent)
	g.POST("/agents/:id/activate", h.Activate)
	g.POST("/agents/:id/deactivate", h.Deactivate)
	g.POST("/agents/:id/reset", h.Reset)
	g.GET("/executions", h.Executions)
	g.GET("/signals", h.Signals)
	g.GET("/coordinator", h.Coordinator)
	g.POST("/orchestrator/start", h.StartOrchestrator)
	g.POST("/orchestrator/stop", h.StopOrchestrator)
}

func (h *AgentsHandler) ListAgents(c echo.Context) error {
	agents := h.orch.Snapshots()
	return xhttp.ListResponse(c, agents, int64(len(agents)))
}

func (h *AgentsHandler) GetAgent(c echo.Context) error {
	req := &models.AgentPathRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	core, err := h.orch.Agent(req.ID)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, models.AgentDetail{
		Agent:       core.Snapshot(),
		Strategies:  core.Strategies(),
		Performance: core.Performance(),
		Candidates:  len(core.Candidates()),
	})
}

func (h *AgentsHandler) Activate(c echo.Context) error {
	return h.control(c, "activate", h.orch.ActivateAgent)
}

func (h *AgentsHandler) Deactivate(c echo.Context) error {
	return h.control(c, "deactivate", h.orch.DeactivateAgent)
}

func (h *AgentsHandler) Reset(c echo.Context) error {
	return h.control(c, "reset", h.orch.ResetAgent)
}

func (h *AgentsHandler) control(c echo.Context, op string, fn func(string) error) error {
	req := &models.AgentPathRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := fn(req.ID); err != nil {
		h.logger.Warn("agent control rejected",
			xlogger.String("op", op),
			xlogger.String("agent_id", req.ID),
			xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	core, err := h.orch.Agent(req.ID)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	h.logger.Info("agent control", xlogger.String("op", op), xlogger.String("agent_id", req.ID))
	return xhttp.SuccessResponse(c, core.Snapshot())
}

func (h *AgentsHandler) Executions(c echo.Context) error {
	req := &models.ListExecutionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.AgentID != "" {
		if _, err := h.orch.Agent(req.AgentID); err != nil {
			return xhttp.AppErrorResponse(c, err)
		}
	}
	all := h.orch.RecentExecutions(0)
	rows := make([]models.ExecutionRecord, 0, req.Limit)
	for _, r := range all {
		if len(rows) == req.Limit {
			break
		}
		if req.AgentID == "" || r.AgentID == req.AgentID {
			rows = append(rows, r)
		}
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *AgentsHandler) Signals(c echo.Context) error {
	req := &models.ListSignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	var since time.Time
	if req.Since != "" {
		t, ok := xutil.ParseTime(req.Since)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("since: unrecognized time %q", req.Since))
		}
		since = t
	}
	filter := models.SignalFilter{}
	if req.Pair != "" {
		filter.Pairs = []string{req.Pair}
	}
	if req.Type != "" {
		filter.SignalTypes = []string{req.Type}
	}
	if req.Source != "" {
		filter.Sources = []string{req.Source}
	}
	rows := h.bus.Recent(filter, since, req.Limit)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *AgentsHandler) Coordinator(c echo.Context) error {
	if h.coord == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("coordinator is disabled"))
	}
	return xhttp.SuccessResponse(c, models.CoordinatorView{
		Running: h.coord.Running(),
		Stats:   h.coord.Stats(),
		Pending: h.coord.Pending(),
	})
}

// StartOrchestrator detaches from the request so ticking outlives it.
func (h *AgentsHandler) StartOrchestrator(c echo.Context) error {
	h.orch.Start(context.WithoutCancel(c.Request().Context()))
	return xhttp.SuccessResponse(c, map[string]bool{"running": h.orch.Running()})
}

func (h *AgentsHandler) StopOrchestrator(c echo.Context) error {
	h.orch.Stop()
	return xhttp.SuccessResponse(c, map[string]bool{"running": h.orch.Running()})
}

func (h *AgentsHandler) Health(c echo.Context) error {
	v := models.HealthView{
		Status:       "ok",
		Orchestrator: h.orch.Running(),
		Components:   h.bus.Components(),
	}
	if h.coord != nil {
		v.Coordinator = h.coord.Running()
	}
	if h.relay != nil {
		v.RelayConnected = h.relay.Connected()
	}
	return xhttp.SuccessResponse(c, v)
}
