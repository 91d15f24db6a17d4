package propagation

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/meshrf/terrain"
)

// Environment selects the Okumura-Hata correction.
type Environment int

const (
	UrbanSmall Environment = iota
	UrbanLarge
	Suburban
	Rural
)

var environmentNames = [...]string{"urban", "urban-large", "suburban", "rural"}

func (e Environment) String() string {
	if e >= UrbanSmall && e <= Rural {
		return environmentNames[e]
	}
	return fmt.Sprintf("Environment(%d)", int(e))
}

// ParseEnvironment maps a name to an Environment. The empty string selects
// Suburban.
func ParseEnvironment(s string) (Environment, error) {
	if s == "" {
		return Suburban, nil
	}
	for i, n := range environmentNames {
		if n == s {
			return Environment(i), nil
		}
	}
	return 0, fmt.Errorf("%w: hata environment %q", ErrUnknownModel, s)
}

// Hata is the empirical Okumura-Hata model. It only looks at distance and
// antenna heights; the profile is used for its length. Distance is clamped
// to at least 100 m and heights to at least 1 m.
type Hata struct {
	Environment Environment
}

// PathLoss implements Model.
func (h Hata) PathLoss(profile terrain.Profile, p LinkParameters) []float32 {
	if !p.Solvable() {
		return unsolvable(len(profile))
	}
	out := make([]float32, len(profile))
	for i := 1; i < len(profile); i++ {
		d := float64(i) * p.StepSizeM
		if d < 1 {
			continue
		}
		out[i] = float32(h.loss(d/1000, p.FrequencyMHz, p.TxHeightM, p.RxHeightM))
	}
	return out
}

func (h Hata) loss(distKm, f, txH, rxH float64) float64 {
	d := math.Max(0.1, distKm)
	hb := math.Max(1, txH)
	hm := math.Max(1, rxH)

	logF := math.Log10(f)
	logHb := math.Log10(hb)

	aHm := (1.1*logF-0.7)*hm - (1.56*logF - 0.8)
	if h.Environment == UrbanLarge {
		if f >= 400 {
			aHm = 3.2*math.Pow(math.Log10(11.75*hm), 2) - 4.97
		} else {
			aHm = 8.29*math.Pow(math.Log10(1.54*hm), 2) - 1.1
		}
	}

	loss := 69.55 + 26.16*logF - 13.82*logHb - aHm + (44.9-6.55*logHb)*math.Log10(d)
	switch h.Environment {
	case Suburban:
		v := math.Log10(f / 28)
		loss -= 2*v*v + 5.4
	case Rural:
		loss -= 4.78*logF*logF - 18.33*logF + 40.94
	}
	return math.Max(0, loss)
}
