// Package propagation defines the point-to-point path loss contract consumed
// by the coverage generator, together with a few terrain-aware models that
// satisfy it.
package propagation

import "fmt"

const (
	// StandardRefractivity is the surface refractivity N0 (N-units) of the
	// standard atmosphere.
	StandardRefractivity = 301.0

	// InvalidLossThreshold is the largest loss (dB) a model may report for a
	// solvable path. Anything above it marks the geometry as unsolvable.
	InvalidLossThreshold = 500.0

	// UnsolvableLoss is what the bundled models report for paths they cannot
	// evaluate. It is above InvalidLossThreshold.
	UnsolvableLoss = 999.0

	// DefaultPermittivity and DefaultConductivity describe average ground.
	DefaultPermittivity = 15.0
	DefaultConductivity = 0.005

	// EarthRadiusM is the mean Earth radius in metres.
	EarthRadiusM = 6371000.0

	speedOfLight = 2.99792e8
)

// Polarization of the transmitted wave.
type Polarization int

const (
	Horizontal Polarization = iota
	Vertical
)

func (p Polarization) String() string {
	switch p {
	case Horizontal:
		return "horizontal"
	case Vertical:
		return "vertical"
	default:
		return fmt.Sprintf("Polarization(%d)", int(p))
	}
}

// Climate is the ITM radio climate code.
type Climate int

const (
	Equatorial Climate = iota + 1
	ContinentalSubtropical
	MaritimeSubtropical
	Desert
	ContinentalTemperate
	MaritimeTemperateOverLand
	MaritimeTemperateOverSea
)

// DefaultClimate is used when no climate is configured.
const DefaultClimate = ContinentalTemperate

var climateNames = [...]string{
	"equatorial",
	"continental-subtropical",
	"maritime-subtropical",
	"desert",
	"continental-temperate",
	"maritime-temperate-land",
	"maritime-temperate-sea",
}

func (c Climate) String() string {
	if c.Valid() {
		return climateNames[c-1]
	}
	return fmt.Sprintf("Climate(%d)", int(c))
}

// Valid reports whether c is one of the seven ITM climates.
func (c Climate) Valid() bool {
	return c >= Equatorial && c <= MaritimeTemperateOverSea
}

// LinkParameters describes one transmitter/receiver link for a path loss
// evaluation. Heights are above local ground.
type LinkParameters struct {
	FrequencyMHz float64
	TxHeightM    float64
	RxHeightM    float64
	Polarization Polarization
	// StepSizeM is the ground distance between consecutive profile samples.
	StepSizeM float64
	// SurfaceRefractivity is N0 in N-units.
	SurfaceRefractivity float64
	// Permittivity is the relative permittivity of the ground.
	Permittivity float64
	// Conductivity is the ground conductivity in S/m.
	Conductivity float64
	Climate      Climate
}

// Solvable reports whether the parameters describe a path any bundled model
// can evaluate.
func (p LinkParameters) Solvable() bool {
	return p.FrequencyMHz > 0 && p.StepSizeM > 0
}

// wavelength returns the carrier wavelength in metres.
func (p LinkParameters) wavelength() float64 {
	return speedOfLight / (p.FrequencyMHz * 1e6)
}
