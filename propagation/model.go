package propagation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/signalsfoundry/meshrf/terrain"
)

// ErrUnknownModel is returned by ByName for unregistered model names.
var ErrUnknownModel = errors.New("unknown propagation model")

// Model computes the cumulative path loss along a terrain profile. The result
// holds one loss in dB per profile sample, in profile order, so the last value
// is the loss at the receiver. Values above InvalidLossThreshold mean the
// model could not solve the path.
//
// Implementations must be safe for concurrent use.
type Model interface {
	PathLoss(profile terrain.Profile, params LinkParameters) []float32
}

// ModelFunc adapts an ordinary function to the Model interface.
type ModelFunc func(profile terrain.Profile, params LinkParameters) []float32

// PathLoss calls f.
func (f ModelFunc) PathLoss(profile terrain.Profile, params LinkParameters) []float32 {
	return f(profile, params)
}

var registry = map[string]func(arg string) (Model, error){
	"fspl": func(string) (Model, error) { return FreeSpace{}, nil },
	"bullington": func(string) (Model, error) {
		return Bullington{}, nil
	},
	"hata": func(arg string) (Model, error) {
		env, err := ParseEnvironment(arg)
		if err != nil {
			return nil, err
		}
		return Hata{Environment: env}, nil
	},
}

// ByName resolves a model from configuration. Names are "fspl",
// "bullington" and "hata", the last optionally qualified with an environment
// as in "hata:rural". The empty name selects Bullington.
func ByName(name string) (Model, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "bullington"
	}
	base, arg, _ := strings.Cut(name, ":")
	ctor, ok := registry[base]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return ctor(arg)
}

// Names lists the registered model names.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func unsolvable(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = UnsolvableLoss
	}
	return out
}
