package convert

import (
	"errors"
	"fmt"
	"iter"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/signac-index/internal/metrics"
)

// ConversionError reports that no converter could turn Source into Target.
type ConversionError struct {
	Source reflect.Type
	Target reflect.Type
	Err    error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("unable to convert %v to %v", e.Source, e.Target)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns ErrConversion and the underlying adapter errors.
func (e *ConversionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConversion}
	}
	return []error{ErrConversion, e.Err}
}

// Converter applies the adapter groups of one path in order.
type Converter struct {
	source reflect.Type
	target reflect.Type
	steps  []reflect.Type
	groups [][]Adapter
	cost   float64
	logger *zap.Logger
}

// Len returns the number of adapter groups.
func (c *Converter) Len() int { return len(c.groups) }

// Cost returns the path weight.
func (c *Converter) Cost() float64 { return c.cost }

func (c *Converter) String() string {
	names := make([]string, 0, len(c.steps))
	for _, t := range c.steps {
		names = append(names, t.String())
	}
	return fmt.Sprintf("Converter(%s, source=%v, target=%v)", strings.Join(names, " -> "), c.source, c.target)
}

// Convert runs v through each group. Within a group the first adapter that
// neither errors nor panics wins; a group where every adapter fails fails
// the conversion with all of their errors.
func (c *Converter) Convert(v any) (any, error) {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	for i, group := range c.groups {
		var errs []error
		converted := false
		for _, a := range group {
			out, err := a.call(v)
			if err != nil {
				logger.Debug("adapter failed", zap.Stringer("adapter", a), zap.Error(err))
				errs = append(errs, err)
				continue
			}
			v = out
			converted = true
			break
		}
		if !converted {
			return nil, &ConversionError{Source: c.steps[i], Target: c.steps[i+1], Err: errors.Join(errs...)}
		}
	}
	return v, nil
}

// Convert converts v to target using g. A value whose type already is target
// is returned unchanged.
func Convert(v any, target reflect.Type, g *Graph) (any, error) {
	source := reflect.TypeOf(v)
	if source == nil {
		metrics.ObserveConversion(metrics.ResultError)
		return nil, fmt.Errorf("%w: cannot convert nil to %v", ErrConversion, target)
	}
	if source == target {
		return v, nil
	}
	logger := g.log()
	converters, err := g.converters(source, target)
	if err != nil {
		logger.Debug("no conversion path", zap.Stringer("source", source), zap.Stringer("target", target))
		metrics.ObserveConversion(metrics.ResultMiss)
		return nil, err
	}
	var lastErr error
	for c := range converters {
		logger.Debug("trying conversion path", zap.Stringer("converter", c), zap.Float64("cost", c.Cost()))
		out, err := c.Convert(v)
		if err == nil {
			metrics.ObserveConversion(metrics.ResultSuccess)
			return out, nil
		}
		logger.Debug("conversion path failed", zap.Stringer("converter", c), zap.Error(err))
		lastErr = err
	}
	metrics.ObserveConversion(metrics.ResultError)
	return nil, &ConversionError{Source: source, Target: target, Err: lastErr}
}

// ConvertTo converts v to T using g.
func ConvertTo[T any](v any, g *Graph) (T, error) {
	var zero T
	out, err := Convert(v, reflect.TypeFor[T](), g)
	if err != nil {
		return zero, err
	}
	t, ok := out.(T)
	if !ok {
		return zero, &ConversionError{
			Source: reflect.TypeOf(v),
			Target: reflect.TypeFor[T](),
			Err:    fmt.Errorf("adapter returned %T", out),
		}
	}
	return t, nil
}

// Converted converts each value to target. With ignoreErrors, values that
// cannot be converted are skipped; otherwise the first failure ends the
// sequence.
func Converted(values iter.Seq[any], target reflect.Type, g *Graph, ignoreErrors bool) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for v := range values {
			out, err := Convert(v, target, g)
			if err != nil {
				if ignoreErrors && errors.Is(err, ErrConversion) {
					continue
				}
				yield(nil, err)
				return
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}
