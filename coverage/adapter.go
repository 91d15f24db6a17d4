package coverage

import (
	"math"

	"github.com/signalsfoundry/meshrf/propagation"
	"github.com/signalsfoundry/meshrf/terrain"
)

// PathLossAdapter binds a propagation model to the link-level inputs of one
// request and reduces the model's per-sample output to the loss at the
// receiver.
type PathLossAdapter struct {
	Model propagation.Model

	FrequencyMHz          float64
	TxHeightM             float64
	RxHeightM             float64
	GroundSampleDistanceM float64
	Permittivity          float64
	Conductivity          float64
	Climate               propagation.Climate
}

// NewPathLossAdapter copies the link-level fields of req.
func NewPathLossAdapter(m propagation.Model, req Request) PathLossAdapter {
	return PathLossAdapter{
		Model:                 m,
		FrequencyMHz:          req.FrequencyMHz,
		TxHeightM:             req.TxHeightM,
		RxHeightM:             req.RxHeightM,
		GroundSampleDistanceM: req.GroundSampleDistanceM,
		Permittivity:          req.Permittivity,
		Conductivity:          req.Conductivity,
		Climate:               req.Climate,
	}
}

// LinkParameters assembles the model parameters. Polarization is always
// vertical and refractivity the standard atmosphere; the step size is the
// grid's ground sample distance.
func (a PathLossAdapter) LinkParameters() propagation.LinkParameters {
	return propagation.LinkParameters{
		FrequencyMHz:        a.FrequencyMHz,
		TxHeightM:           a.TxHeightM,
		RxHeightM:           a.RxHeightM,
		Polarization:        propagation.Vertical,
		StepSizeM:           a.GroundSampleDistanceM,
		SurfaceRefractivity: propagation.StandardRefractivity,
		Permittivity:        a.Permittivity,
		Conductivity:        a.Conductivity,
		Climate:             a.Climate,
	}
}

// PathLoss returns the loss in dB at the far end of profile. ok is false when
// the model returned nothing, NaN, or a value above
// propagation.InvalidLossThreshold.
func (a PathLossAdapter) PathLoss(profile terrain.Profile) (lossDB float32, ok bool) {
	losses := a.Model.PathLoss(profile, a.LinkParameters())
	if len(losses) == 0 {
		return 0, false
	}
	loss := losses[len(losses)-1]
	if loss > propagation.InvalidLossThreshold || math.IsNaN(float64(loss)) {
		return 0, false
	}
	return loss, true
}
