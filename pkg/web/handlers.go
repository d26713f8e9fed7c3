package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-eyeface/pkg/eyetrack"
	"github.com/teslashibe/go-eyeface/pkg/hub"
	"github.com/teslashibe/go-eyeface/pkg/recorder"
	"github.com/teslashibe/go-eyeface/pkg/runner"
)

// statusResponse adds feed client counts to the loop status.
type statusResponse struct {
	runner.Status
	ExpressionClients int `json:"expression_clients"`
	StatusClients     int `json:"status_clients"`
}

func errorJSON(c *fiber.Ctx, code int, err error) error {
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// handleStatus returns loop counters and the latest output
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(statusResponse{
		Status:            s.opts.Engine.Status(),
		ExpressionClients: s.exprHub.ClientCount(),
		StatusClients:     s.statusHub.ClientCount(),
	})
}

// handleConfig returns the configuration applied from the next cycle on
func (s *Server) handleConfig(c *fiber.Ctx) error {
	return c.JSON(s.opts.Engine.Config())
}

func (s *Server) handleGetTuning(c *fiber.Ctx) error {
	return c.JSON(eyetrack.TuningFromConfig(s.opts.Engine.Config()))
}

// handleSetTuning applies a partial update. ?persist=true also writes it
// to the settings file.
func (s *Server) handleSetTuning(c *fiber.Ctx) error {
	var p eyetrack.TuningParams
	if err := c.BodyParser(&p); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	if p.Empty() {
		return errorJSON(c, fiber.StatusBadRequest, errors.New("no tuning fields set"))
	}

	cfg, err := s.opts.Engine.Tune(p)
	if err != nil {
		if errors.Is(err, eyetrack.ErrInvalidConfig) {
			return errorJSON(c, fiber.StatusUnprocessableEntity, err)
		}
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}

	persisted := false
	if c.QueryBool("persist") {
		if s.opts.Settings == nil {
			return errorJSON(c, fiber.StatusNotFound, errors.New("no settings file configured"))
		}
		cur := s.opts.Settings.Current()
		cur.Config = cfg
		if err := s.opts.Settings.Save(cur); err != nil {
			return errorJSON(c, fiber.StatusInternalServerError, err)
		}
		persisted = true
	}

	s.log.Info("tuning applied", "persisted", persisted, "strategy", cfg.Strategy.String())
	return c.JSON(fiber.Map{
		"tuning":    eyetrack.TuningFromConfig(cfg),
		"persisted": persisted,
	})
}

// handleReload re-reads the settings file and applies it
func (s *Server) handleReload(c *fiber.Ctx) error {
	if s.opts.Settings == nil {
		return errorJSON(c, fiber.StatusNotFound, errors.New("no settings file configured"))
	}
	st, changed, err := s.opts.Settings.Reload()
	if err != nil {
		return errorJSON(c, fiber.StatusUnprocessableEntity, err)
	}
	if changed && s.opts.OnSettings != nil {
		s.opts.OnSettings(st)
	}
	return c.JSON(fiber.Map{
		"changed":     changed,
		"double_time": st.DoubleTime,
		"config":      st.Config,
	})
}

func (s *Server) handleSessions(c *fiber.Ctx) error {
	if s.opts.Sessions == nil {
		return errorJSON(c, fiber.StatusNotFound, errors.New("recording disabled"))
	}
	sessions, err := s.opts.Sessions.Sessions(c.UserContext())
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}
	if sessions == nil {
		sessions = []recorder.Session{}
	}
	return c.JSON(sessions)
}

func (s *Server) handleSessionStats(c *fiber.Ctx) error {
	if s.opts.Sessions == nil {
		return errorJSON(c, fiber.StatusNotFound, errors.New("recording disabled"))
	}
	st, err := s.opts.Sessions.Stats(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, recorder.ErrSessionNotFound) {
			return errorJSON(c, fiber.StatusNotFound, err)
		}
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(st)
}

// handleExpressionsWS streams every conditioned frame
func (s *Server) handleExpressionsWS(c *websocket.Conn) {
	hub.NewClient(s.exprHub, c).Run()
}

// handleStatusWS streams periodic status snapshots
func (s *Server) handleStatusWS(c *websocket.Conn) {
	hub.NewClient(s.statusHub, c).Run()
}
