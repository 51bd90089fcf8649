package models

// Coordinate bounds accepted by the Redis geo index (EPSG:3857 projection).
const (
	MinLongitude = -180.0
	MaxLongitude = 180.0
	MinLatitude  = -85.05112878
	MaxLatitude  = 85.05112878
)

// Location is a named point on the map.
type Location struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Longitude   float64 `json:"longitude"`
	Latitude    float64 `json:"latitude"`
}

// DistanceUnit is a radius unit understood by the geo index.
type DistanceUnit string

const (
	UnitMeters     DistanceUnit = "m"
	UnitKilometers DistanceUnit = "km"
	UnitMiles      DistanceUnit = "mi"
	UnitFeet       DistanceUnit = "ft"
)

// Valid reports whether u is one of the supported units.
func (u DistanceUnit) Valid() bool {
	switch u {
	case UnitMeters, UnitKilometers, UnitMiles, UnitFeet:
		return true
	}
	return false
}
