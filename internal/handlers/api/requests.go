package api

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"timelapse-server/internal/common"
	"timelapse-server/internal/roi"
)

// RenderRequest carries the query parameters shared by the rendering and
// scene-listing endpoints. Coordinates name the upper-left and lower-right
// corners of the drawn box.
type RenderRequest struct {
	ULat      float64 `query:"u_lat" validate:"gte=-90,lte=90"`
	ULon      float64 `query:"u_lon" validate:"gte=-180,lte=180"`
	LLat      float64 `query:"l_lat" validate:"gte=-90,lte=90"`
	LLon      float64 `query:"l_lon" validate:"gte=-180,lte=180"`
	Satellite string  `query:"satellite"`
	Parameter string  `query:"parameter"`
	StartDate string  `query:"start_date" validate:"required"`
	EndDate   string  `query:"end_date" validate:"required"`
	MaxFrames int     `query:"max_frames" validate:"gte=0,lte=100"`
	FPS       int     `query:"fps" validate:"gte=0,lte=30"`
	Width     int     `query:"width" validate:"gte=0,lte=2048"`
	Height    int     `query:"height" validate:"gte=0,lte=2048"`
}

// StatsRequest extends RenderRequest with the reducer to apply.
type StatsRequest struct {
	RenderRequest
	Reducer string `query:"reducer" validate:"omitempty,oneof=mean min max median stdDev"`
}

// ExportRequest is the body for queuing a timelapse export.
type ExportRequest struct {
	Name      string  `json:"name"`
	ULat      float64 `json:"u_lat" validate:"gte=-90,lte=90"`
	ULon      float64 `json:"u_lon" validate:"gte=-180,lte=180"`
	LLat      float64 `json:"l_lat" validate:"gte=-90,lte=90"`
	LLon      float64 `json:"l_lon" validate:"gte=-180,lte=180"`
	Satellite string  `json:"satellite"`
	Parameter string  `json:"parameter"`
	StartDate string  `json:"start_date" validate:"required"`
	EndDate   string  `json:"end_date" validate:"required"`
	MaxFrames int     `json:"max_frames" validate:"gte=0,lte=100"`
	FPS       int     `json:"fps" validate:"gte=0,lte=30"`
	Width     int     `json:"width" validate:"gte=0,lte=2048"`
	Height    int     `json:"height" validate:"gte=0,lte=2048"`
	Priority  int     `json:"priority"`
}

// Validator adapts go-playground/validator to echo's Validator interface.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

func (v *Validator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// Region builds and validates the rectangle described by the request corners.
func (r *RenderRequest) Region() (roi.Rect, error) {
	rect := roi.FromCorners(r.ULat, r.ULon, r.LLat, r.LLon)
	if err := rect.Validate(); err != nil {
		return roi.Rect{}, err
	}
	return rect, nil
}

// DateRange validates the request's date window.
func (r *RenderRequest) DateRange() error {
	_, _, err := common.ParseDateRange(r.StartDate, r.EndDate)
	return err
}

// Region builds and validates the rectangle described by the export corners.
func (r *ExportRequest) Region() (roi.Rect, error) {
	rect := roi.FromCorners(r.ULat, r.ULon, r.LLat, r.LLon)
	if err := rect.Validate(); err != nil {
		return roi.Rect{}, err
	}
	return rect, nil
}

// DateRange validates the export's date window.
func (r *ExportRequest) DateRange() error {
	_, _, err := common.ParseDateRange(r.StartDate, r.EndDate)
	return err
}

// DisplayName returns the export name, defaulting to a readable summary.
func (r *ExportRequest) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("%s %s %s to %s", r.Satellite, r.Parameter, r.StartDate, r.EndDate)
}
