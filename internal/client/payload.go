package client

import (
	"strings"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
)

// Detections is a validated detection payload converted to model types.
type Detections struct {
	Vehicles []model.VehicleDetection
	Objects  []model.ObjectDetection
}

type submitPayload struct {
	Success    *bool              `json:"success" validate:"required"`
	JobID      string             `json:"job_id" validate:"required_without=Detections"`
	Detections *detectionsPayload `json:"detections"`
	Error      string             `json:"error"`
}

type pollPayload struct {
	Status     Status             `json:"status" validate:"required,oneof=running success failure"`
	Detections *detectionsPayload `json:"detections"`
	Error      string             `json:"error"`
}

type exportPayload struct {
	Success     *bool  `json:"success" validate:"required"`
	VehiclesCSV string `json:"vehicles_csv"`
	ObjectsCSV  string `json:"other_objects_csv"`
	Error       string `json:"error"`
}

type detectionsPayload struct {
	Vehicles []vehiclePayload `json:"vehicles" validate:"dive"`
	Objects  []objectPayload  `json:"other_objects" validate:"dive"`
}

// Confidence range is enforced by the detection store so that one bad entry
// does not discard the rest of the frame.
type vehiclePayload struct {
	VehicleType  string   `json:"vehicle_type" validate:"required"`
	Confidence   *float64 `json:"confidence" validate:"required"`
	Color        string   `json:"color"`
	LicensePlate *string  `json:"license_plate"`
}

type objectPayload struct {
	ObjectType   string   `json:"object_type" validate:"required"`
	Confidence   *float64 `json:"confidence" validate:"required"`
	Location     string   `json:"location"`
	SizeCategory string   `json:"size_category"`
}

func (p *detectionsPayload) toDetections() *Detections {
	d := &Detections{
		Vehicles: make([]model.VehicleDetection, 0, len(p.Vehicles)),
		Objects:  make([]model.ObjectDetection, 0, len(p.Objects)),
	}
	for _, v := range p.Vehicles {
		d.Vehicles = append(d.Vehicles, model.VehicleDetection{
			Type:         v.VehicleType,
			Confidence:   *v.Confidence,
			Color:        orUnknown(v.Color),
			LicensePlate: plate(v.LicensePlate),
		})
	}
	for _, o := range p.Objects {
		d.Objects = append(d.Objects, model.ObjectDetection{
			Type:         o.ObjectType,
			Confidence:   *o.Confidence,
			Location:     orUnknown(o.Location),
			SizeCategory: orUnknown(o.SizeCategory),
		})
	}
	return d
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return model.UnknownValue
	}
	return s
}

func plate(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" || strings.EqualFold(s, "none") || strings.EqualFold(s, model.UnknownValue) {
		return nil
	}
	return &s
}
