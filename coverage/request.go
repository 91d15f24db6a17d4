package coverage

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/meshrf/propagation"
)

// ErrInvalidRequest is returned by Request.Validate. The generator itself
// never fails on request contents; Validate exists for outer surfaces that
// want to reject nonsense before running a raster.
var ErrInvalidRequest = errors.New("invalid coverage request")

// Request carries the transmitter placement and link budget for one raster.
type Request struct {
	TxX, TxY int

	TxHeightM    float64
	RxHeightM    float64
	FrequencyMHz float64

	TxPowerDBm float64
	TxGainDBi  float64
	RxGainDBi  float64
	// RxSensitivityDBm is the level below which a caller should treat a
	// cell as uncovered. It does not affect which cells are computed.
	RxSensitivityDBm float64

	// MaxDistancePx bounds the search window and the per-pixel distance.
	MaxDistancePx int
	// GroundSampleDistanceM is the ground size of one grid cell.
	GroundSampleDistanceM float64

	Permittivity float64
	Conductivity float64
	Climate      propagation.Climate
}

// EIRP returns transmit power plus transmit antenna gain, in float32 as
// stored in the raster.
func (r Request) EIRP() float32 {
	return float32(r.TxPowerDBm) + float32(r.TxGainDBi)
}

// Validate checks the physical plausibility of a request.
func (r Request) Validate() error {
	switch {
	case !(r.FrequencyMHz > 0):
		return fmt.Errorf("%w: frequency %v MHz must be positive", ErrInvalidRequest, r.FrequencyMHz)
	case !(r.GroundSampleDistanceM > 0):
		return fmt.Errorf("%w: ground sample distance %v m must be positive", ErrInvalidRequest, r.GroundSampleDistanceM)
	case r.MaxDistancePx < 0:
		return fmt.Errorf("%w: max distance %d px is negative", ErrInvalidRequest, r.MaxDistancePx)
	case r.TxHeightM < 0 || r.RxHeightM < 0:
		return fmt.Errorf("%w: antenna heights must not be negative", ErrInvalidRequest)
	case !r.Climate.Valid():
		return fmt.Errorf("%w: climate %d not in 1..7", ErrInvalidRequest, int(r.Climate))
	}
	for name, v := range map[string]float64{
		"tx power":     r.TxPowerDBm,
		"tx gain":      r.TxGainDBi,
		"rx gain":      r.RxGainDBi,
		"permittivity": r.Permittivity,
		"conductivity": r.Conductivity,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidRequest, name)
		}
	}
	return nil
}

// MetersToPixels converts a ground distance to whole pixels, rounding down.
func MetersToPixels(distanceM, gsdM float64) int {
	if gsdM <= 0 || distanceM <= 0 {
		return 0
	}
	return int(math.Floor(distanceM / gsdM))
}
