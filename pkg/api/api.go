package api

import (
	"context"
	"errors"

	"github.com/fako1024/brewster/pkg/brewometer"
	"github.com/fako1024/brewster/pkg/poll"
	"github.com/fako1024/brewster/pkg/registry"
	"github.com/gofiber/fiber/v2"
)

// Registry denotes the registry operations exposed via the API
type Registry interface {
	Devices(ctx context.Context) ([]brewometer.Device, error)
	ActiveDevices(ctx context.Context) ([]brewometer.Device, error)
	Device(ctx context.Context, id int64) (brewometer.Device, error)
	StartBrew(ctx context.Context, deviceID int64, name string) (int64, error)
	StopBrew(ctx context.Context, deviceID int64) error
	Brews(ctx context.Context) ([]brewometer.Brew, error)
	Brew(ctx context.Context, id int64) (brewometer.Brew, error)
	Measurements(ctx context.Context, brewID int64) ([]brewometer.Record, error)
}

// Poller denotes the capability to run a poll cycle on demand
type Poller interface {
	Run(ctx context.Context) (poll.Report, error)
}

// API denotes a REST API for the brewometer registry
type API struct {
	registry Registry
	poller   Poller
	router   *fiber.App
}

type startBrewRequest struct {
	Name string `json:"name"`
}

type pollResponse struct {
	poll.Report
	Error string `json:"error,omitempty"`
}

// New instantiates a new API (the poll endpoint is only available if a poller is provided)
func New(reg Registry, poller Poller) *API {

	api := API{
		registry: reg,
		poller:   poller,
		router: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ErrorHandler:          handleError,
		}),
	}

	// Setup routes
	api.router.Get("/devices", api.handleDevices())
	api.router.Get("/devices/active", api.handleActiveDevices())
	api.router.Get("/devices/:id", api.handleDevice())
	api.router.Post("/devices/:id/brew", api.handleStartBrew())
	api.router.Delete("/devices/:id/brew", api.handleStopBrew())
	api.router.Get("/brews", api.handleBrews())
	api.router.Get("/brews/:id", api.handleBrew())
	api.router.Get("/brews/:id/measurements", api.handleMeasurements())
	if poller != nil {
		api.router.Post("/poll", api.handlePoll())
	}

	return &api
}

// Listen serves the API on the given endpoint (blocking)
func (api *API) Listen(endpoint string) error {
	return api.router.Listen(endpoint)
}

// Shutdown gracefully stops the API
func (api *API) Shutdown() error {
	return api.router.Shutdown()
}

func (api *API) handleDevices() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		devices, err := api.registry.Devices(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(nonNil(devices))
	}
}

func (api *API) handleActiveDevices() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		devices, err := api.registry.ActiveDevices(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(nonNil(devices))
	}
}

func (api *API) handleDevice() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		d, err := api.registry.Device(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(d)
	}
}

func (api *API) handleStartBrew() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}

		var req startBrewRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if req.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "brew name is required")
		}

		brewID, err := api.registry.StartBrew(c.UserContext(), id, req.Name)
		if err != nil {
			return err
		}
		b, err := api.registry.Brew(c.UserContext(), brewID)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(b)
	}
}

func (api *API) handleStopBrew() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		if err := api.registry.StopBrew(c.UserContext(), id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func (api *API) handleBrews() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		brews, err := api.registry.Brews(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(nonNil(brews))
	}
}

func (api *API) handleBrew() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		b, err := api.registry.Brew(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(b)
	}
}

func (api *API) handleMeasurements() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		if _, err := api.registry.Brew(c.UserContext(), id); err != nil {
			return err
		}
		records, err := api.registry.Measurements(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(nonNil(records))
	}
}

func (api *API) handlePoll() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		report, err := api.poller.Run(c.UserContext())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(pollResponse{Report: report, Error: err.Error()})
		}
		return c.JSON(pollResponse{Report: report})
	}
}

////////////////////////////////////////////////////////////////////////////////

func paramID(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return int64(id), nil
}

func handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fErr *fiber.Error
	switch {
	case errors.As(err, &fErr):
		code = fErr.Code
	case errors.Is(err, brewometer.ErrUnknownDevice), errors.Is(err, registry.ErrUnknownBrew):
		code = fiber.StatusNotFound
	case errors.Is(err, brewometer.ErrInvalidBrewTransition):
		code = fiber.StatusConflict
	}

	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
