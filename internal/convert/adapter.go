// Package convert resolves conversions between Go types through a weighted
// graph of registered adapters.
//
// Adapters are registered explicitly on a Registry. A Graph is an immutable
// snapshot of a registry: each edge (expects, returns) carries every adapter
// registered for the pair, ordered by ascending weight, and the edge weight is
// the smallest of them. Conversions follow the cheapest simple paths first;
// when every adapter of an edge fails, the next path is tried.
package convert

import (
	"errors"
	"fmt"
	"reflect"
)

// Adapter weights.
const (
	WeightDefault             = 1.0
	WeightDiscouraged         = 10.0
	WeightStronglyDiscouraged = 100.0
)

var (
	// ErrConversion is wrapped by every failed conversion.
	ErrConversion = errors.New("conversion failed")
	// ErrNoConversionPath is returned when the graph has no path from any
	// ancestor of the source type to the target type.
	ErrNoConversionPath = fmt.Errorf("%w: no conversion path", ErrConversion)
)

// Adapter converts values of type Expects to type Returns.
type Adapter struct {
	Name    string
	Expects reflect.Type
	Returns reflect.Type
	Weight  float64
	Fn      func(any) (any, error)
}

// NewAdapter builds a typed adapter.
func NewAdapter[From, To any](name string, weight float64, fn func(From) (To, error)) Adapter {
	expects := reflect.TypeFor[From]()
	return Adapter{
		Name:    name,
		Expects: expects,
		Returns: reflect.TypeFor[To](),
		Weight:  weight,
		Fn: func(v any) (any, error) {
			from, ok := v.(From)
			if !ok {
				return nil, fmt.Errorf("%s: expected %v, got %T", name, expects, v)
			}
			return fn(from)
		},
	}
}

func (a Adapter) validate() error {
	switch {
	case a.Expects == nil || a.Returns == nil:
		return fmt.Errorf("adapter %q: expects and returns are required", a.Name)
	case a.Expects == a.Returns:
		return fmt.Errorf("adapter %q: converts %v to itself", a.Name, a.Expects)
	case a.Weight < 0:
		return fmt.Errorf("adapter %q: negative weight %v", a.Name, a.Weight)
	case a.Fn == nil:
		return fmt.Errorf("adapter %q: nil conversion function", a.Name)
	}
	return nil
}

func (a Adapter) String() string {
	return fmt.Sprintf("%s(from=%v,to=%v,weight=%v)", a.Name, a.Expects, a.Returns, a.Weight)
}

// call runs the adapter, turning panics into errors.
func (a Adapter) call(v any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter %s panicked: %v", a.Name, r)
		}
	}()
	return a.Fn(v)
}
