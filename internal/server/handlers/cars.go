// Handles the cars collection.

package handlers

import (
	"context"
	"log/slog"

	"github.com/neizzzy/garage/internal/record"
	"github.com/neizzzy/garage/internal/server/dto"
	"github.com/neizzzy/garage/internal/store"
)

// CarHandler handles car CRUD requests.
type CarHandler struct {
	cars *store.Store[*record.Car]
}

// NewCarHandler creates a new car handler.
func NewCarHandler(cars *store.Store[*record.Car]) *CarHandler {
	return &CarHandler{cars: cars}
}

// ListCars returns the cars whose make contains the search term, or all cars
// without one.
func (h *CarHandler) ListCars(ctx context.Context, req *dto.ListCarsRequest) (*dto.ListCarsResponse, error) {
	all, err := h.cars.All(ctx)
	if err != nil {
		return nil, dto.StorageError(err)
	}
	found := record.Search(all, req.Term)
	resp := &dto.ListCarsResponse{Cars: make([]dto.CarResponse, 0, len(found))}
	for _, c := range found {
		resp.Cars = append(resp.Cars, carToResponse(c))
	}
	return resp, nil
}

// GetCar returns one car.
func (h *CarHandler) GetCar(ctx context.Context, req *dto.GetCarRequest) (*dto.CarResponse, error) {
	c, err := h.cars.FindByID(ctx, req.ID())
	if err != nil {
		return nil, dto.StorageError(err)
	}
	if c == nil {
		return nil, dto.NotFound("car")
	}
	resp := carToResponse(c)
	return &resp, nil
}

// CreateCar validates and stores a new car.
func (h *CarHandler) CreateCar(ctx context.Context, req *dto.CreateCarRequest) (*dto.CarResponse, error) {
	fields := &record.Car{Make: req.Make, Model: req.Model}
	if errs := fields.Validate(); len(errs) != 0 {
		return nil, dto.Unprocessable(errs)
	}
	c, err := h.cars.Create(ctx, fields)
	if err != nil {
		return nil, dto.StorageError(err)
	}
	slog.InfoContext(ctx, "Car created", "id", c.ID)
	resp := carToResponse(c)
	return &resp, nil
}

// UpdateCar validates and overwrites the fields of a car.
func (h *CarHandler) UpdateCar(ctx context.Context, req *dto.UpdateCarRequest) (*dto.CarResponse, error) {
	existing, err := h.cars.FindByID(ctx, req.ID())
	if err != nil {
		return nil, dto.StorageError(err)
	}
	if existing == nil {
		return nil, dto.NotFound("car")
	}
	fields := &record.Car{Make: req.Make, Model: req.Model}
	if errs := fields.Validate(); len(errs) != 0 {
		return nil, dto.Unprocessable(errs)
	}
	c, err := h.cars.Update(ctx, req.ID(), fields)
	if err != nil {
		return nil, dto.StorageError(err)
	}
	if c == nil {
		return nil, dto.NotFound("car")
	}
	resp := carToResponse(c)
	return &resp, nil
}

// DeleteCar removes a car. Deleting a missing car succeeds.
func (h *CarHandler) DeleteCar(ctx context.Context, req *dto.DeleteCarRequest) (*dto.EmptyResponse, error) {
	if err := h.cars.Destroy(ctx, req.ID()); err != nil {
		return nil, dto.StorageError(err)
	}
	return &dto.EmptyResponse{}, nil
}

func carToResponse(c *record.Car) dto.CarResponse {
	return dto.CarResponse{ID: c.ID, Make: c.Make, Model: c.Model}
}
