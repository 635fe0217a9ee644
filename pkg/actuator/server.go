package actuator

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/gwillem/dofbot/pkg/robot"
)

const (
	defaultMovesLimit = 50
	maxMovesLimit     = 500
	requestIDHeader   = "X-Request-ID"
)

const usage = `Dofbot Web Controller

Use the endpoints to control the arm:

  GET /image                                capture a JPEG image from the camera
  GET /set_angles?angles=A,B,C,D,E,F&t=T    move all joints to the given angles over T milliseconds
                                            (default 5000); out-of-range angles are clamped
  GET /angles                               get the current angles of all joints
  GET /home?grip=open|closed                return the arm to the home position
  GET /moves?limit=N                        list the most recent moves
`

// History lists journaled moves, newest first.
type History interface {
	RecentMoves(ctx context.Context, limit int) ([]MoveRecord, error)
}

// Server exposes a Service over HTTP.
type Server struct {
	app     *fiber.App
	svc     *Service
	history History
	logger  *slog.Logger
}

// NewServer builds the HTTP routes for svc. history may be nil.
func NewServer(svc *Service, history History, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:     svc,
		history: history,
		logger:  logger,
	}

	app := fiber.New(fiber.Config{
		AppName:               "dofbot",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(s.logRequests)

	app.Get(PathIndex, s.handleIndex)
	app.Get(PathAngles, s.handleAngles)
	app.Get(PathSetAngles, s.handleSetAngles)
	app.Get(PathHome, s.handleHome)
	app.Get(PathImage, s.handleImage)
	app.Get(PathMoves, s.handleMoves)

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info("actuator service listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server. In-flight moves finish first.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	id := c.Get(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(requestIDHeader, id)

	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	s.logger.Info("request",
		"id", id,
		"method", c.Method(),
		"path", c.Path(),
		"status", status,
		"latency", time.Since(start),
	)
	return err
}

func (s *Server) handleIndex(c *fiber.Ctx) error {
	return c.SendString(usage)
}

func (s *Server) handleAngles(c *fiber.Ctx) error {
	angles, err := s.svc.ReadAngles(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(AnglesResponse{Angles: angles})
}

func (s *Server) handleSetAngles(c *fiber.Ctx) error {
	raw := c.Query(ParamAngles)
	if raw == "" {
		return c.Status(fiber.StatusBadRequest).SendString("missing angles parameter")
	}
	target, err := robot.ParseAngles(raw)
	if err != nil {
		return s.fail(c, err)
	}

	duration := DefaultMoveDuration
	if t := c.Query(ParamDuration); t != "" {
		ms, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("t must be an integer number of milliseconds")
		}
		if ms < 0 || ms > MaxMoveDuration.Milliseconds() {
			return c.Status(fiber.StatusBadRequest).SendString("t must be between 0 and " + strconv.FormatInt(MaxMoveDuration.Milliseconds(), 10))
		}
		duration = time.Duration(ms) * time.Millisecond
	}

	angles, err := s.svc.WriteAngles(c.UserContext(), target, duration)
	if err != nil {
		return s.fail(c, err)
	}

	applied := s.svc.Envelope().Clamp(target)
	resp := AnglesResponse{Status: StatusOK, Angles: angles}
	if !applied.Equal(target) {
		resp.Clamped = true
		resp.Applied = applied
	}
	return c.JSON(resp)
}

func (s *Server) handleHome(c *fiber.Ctx) error {
	grip := Grip(c.Query(ParamGrip, string(GripOpen)))
	if grip != GripOpen && grip != GripClosed {
		return c.Status(fiber.StatusBadRequest).SendString("grip must be open or closed")
	}
	angles, err := s.svc.MoveHome(c.UserContext(), grip)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(AnglesResponse{Status: StatusOK, Angles: angles})
}

func (s *Server) handleImage(c *fiber.Ctx) error {
	data, err := s.svc.CaptureImage(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	return c.Send(data)
}

func (s *Server) handleMoves(c *fiber.Ctx) error {
	if s.history == nil {
		return c.Status(fiber.StatusNotFound).SendString("move journal disabled")
	}
	limit := c.QueryInt(ParamLimit, defaultMovesLimit)
	if limit <= 0 || limit > maxMovesLimit {
		return c.Status(fiber.StatusBadRequest).SendString("limit must be between 1 and 500")
	}
	moves, err := s.history.RecentMoves(c.UserContext(), limit)
	if err != nil {
		return s.fail(c, err)
	}
	if moves == nil {
		moves = []MoveRecord{}
	}
	return c.JSON(MovesResponse{Moves: moves})
}

// fail maps the error taxonomy onto status codes.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	if errors.Is(err, robot.ErrInvalidInput) {
		status = fiber.StatusBadRequest
	}
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(status).SendString(err.Error())
}
