package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/edgeflow/kilnd/internal/kiln/pidctl"
	"github.com/edgeflow/kilnd/internal/kiln/profile"
	"github.com/edgeflow/kilnd/internal/kiln/settings"
	kilnws "github.com/edgeflow/kilnd/internal/websocket"
)

// SetupRoutes registers every HTTP and WebSocket route under /api/v1,
// grouped the way the teacher's routes.go groups flow/node/connection
// resources, with command/profile/settings/history resources standing in
// for flows and a single /ws stream standing in for the terminal and flow
// event streams it multiplexes.
func SetupRoutes(app *fiber.App, svc *Service, wsHub *kilnws.Hub, jwtSecret string) {
	api := app.Group("/api/v1")

	api.Post("/auth/token", loginHandler(svc, jwtSecret))

	protected := api.Group("", jwtMiddleware(jwtSecret))

	protected.Get("/progress", getProgressHandler(svc))
	protected.Get("/error", getLastErrorHandler(svc))

	settingsRoutes := protected.Group("/settings")
	settingsRoutes.Get("/", getSettingsHandler(svc))
	settingsRoutes.Put("/", updateSettingsHandler(svc))

	gainsRoutes := protected.Group("/gains")
	gainsRoutes.Get("/", getGainsHandler(svc))
	gainsRoutes.Put("/", updateGainsHandler(svc))

	profileRoutes := protected.Group("/profiles")
	profileRoutes.Get("/", listProfilesHandler(svc))
	profileRoutes.Post("/", saveProfileHandler(svc))
	profileRoutes.Get("/:id", getProfileHandler(svc))
	profileRoutes.Delete("/:id", deleteProfileHandler(svc))

	protected.Get("/history", listHistoryHandler(svc))

	commandRoutes := protected.Group("/commands")
	commandRoutes.Post("/start", startCommandHandler(svc))
	commandRoutes.Post("/stop", simpleCommandHandler(svc.Stop))
	commandRoutes.Post("/pause", simpleCommandHandler(svc.Pause))
	commandRoutes.Post("/resume", simpleCommandHandler(svc.Resume))
	commandRoutes.Post("/skip_segment", simpleCommandHandler(svc.SkipSegment))
	commandRoutes.Post("/autotune/start", autotuneStartCommandHandler(svc))
	commandRoutes.Post("/autotune/stop", simpleCommandHandler(svc.AutotuneStop))

	// WebSocket upgrade, grounded on the teacher's handlers.go pattern: a
	// Use middleware gates non-upgrade requests, then Get hands the
	// connection to the hub. The session token rides in the query string
	// since browsers cannot set an Authorization header on a WS handshake.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if err := validateSessionToken(c.Query("token"), jwtSecret); err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or missing session token")
		}
		c.Locals("allowed", true)
		return c.Next()
	})
	app.Get("/ws", websocket.New(wsHub.HandleWebSocket))
}

func validateSessionToken(raw, jwtSecret string) error {
	if raw == "" {
		return errors.New("missing token")
	}
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

func getProgressHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(svc.GetProgress())
	}
}

func getLastErrorHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"error_code": svc.LastErrorCode()})
	}
}

func getSettingsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := svc.GetSettings()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(s)
	}
}

// settingsRequest is the wire shape for PUT /settings. APIToken is a
// pointer so omitting it from the request body leaves the stored token
// untouched, and is never present in a response body.
type settingsRequest struct {
	Unit          string  `json:"unit"`
	MaxSafeTempC  float64 `json:"max_safe_temp_c"`
	TCOffsetC     float64 `json:"tc_offset_c"`
	WebhookURL    string  `json:"webhook_url"`
	ElementWatts  int32   `json:"element_watts"`
	CostPerKWh    float64 `json:"cost_per_kwh"`
	AlarmEnabled  bool    `json:"alarm_enabled"`
	AutoShutdown  bool    `json:"auto_shutdown"`
	Notifications bool    `json:"notifications"`
	APIToken      *string `json:"api_token,omitempty"`
}

func updateSettingsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req settingsRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		current, err := svc.GetSettings()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if req.Unit != "" {
			current.Unit = settings.TemperatureUnit(req.Unit)
		}
		current.MaxSafeTempC = req.MaxSafeTempC
		current.TCOffsetC = req.TCOffsetC
		current.WebhookURL = req.WebhookURL
		current.ElementWatts = req.ElementWatts
		current.CostPerKWh = req.CostPerKWh
		current.AlarmEnabled = req.AlarmEnabled
		current.AutoShutdown = req.AutoShutdown
		current.Notifications = req.Notifications

		if err := svc.SaveSettings(current, req.APIToken); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func getGainsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		g, err := svc.GetGains()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(g)
	}
}

func updateGainsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var g pidctl.Gains
		if err := c.BodyParser(&g); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := svc.SetGains(g); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func listProfilesHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		profiles, err := svc.ListProfiles()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(profiles)
	}
}

func getProfileHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := svc.GetProfile(c.Params("id"))
		if errors.Is(err, profile.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "profile not found")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(p)
	}
}

func saveProfileHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var p profile.Profile
		if err := c.BodyParser(&p); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := svc.SaveProfile(p); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func deleteProfileHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.DeleteProfile(c.Params("id")); err != nil {
			if errors.Is(err, profile.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "profile not found")
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func listHistoryHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(svc.ListHistory())
	}
}

func startCommandHandler(svc *Service) fiber.Handler {
	type request struct {
		ProfileID    string `json:"profile_id"`
		DelayMinutes int    `json:"delay_minutes"`
	}
	return func(c *fiber.Ctx) error {
		var req request
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := svc.StartFiring(req.ProfileID, req.DelayMinutes); err != nil {
			return commandError(c, err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	}
}

func autotuneStartCommandHandler(svc *Service) fiber.Handler {
	type request struct {
		SetpointC   float64 `json:"setpoint_c"`
		HysteresisC float64 `json:"hysteresis_c"`
	}
	return func(c *fiber.Ctx) error {
		var req request
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := svc.AutotuneStart(req.SetpointC, req.HysteresisC); err != nil {
			return commandError(c, err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	}
}

func simpleCommandHandler(cmd func() error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := cmd(); err != nil {
			return commandError(c, err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	}
}

// commandError maps a command enqueue failure to a response. The only
// Engine.Enqueue failure is a full inbox (ErrQueueFull), a transient
// condition the caller should retry, not a client error.
func commandError(c *fiber.Ctx, err error) error {
	if errors.Is(err, profile.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
}
