package convert

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type (
	typeA struct{ v int }
	typeB struct{ v int }
	typeC struct{ v int }
	typeD struct{ v int }
	typeE struct{ v int }
)

type label string

func (l label) String() string { return "label:" + string(l) }

func intStringRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(NewAdapter("itoa", WeightDefault, func(i int) (string, error) {
		return strconv.Itoa(i), nil
	})))
	require.NoError(t, r.Register(NewAdapter("atoi", WeightDefault, strconv.Atoi)))
	return r
}

func TestConvertIntStringScenario(t *testing.T) {
	t.Parallel()

	g := intStringRegistry(t).Graph()

	out, err := Convert(5, reflect.TypeFor[string](), g)
	require.NoError(t, err)
	assert.Equal(t, "5", out)

	n, err := ConvertTo[int]("7", g)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = Convert(5, reflect.TypeFor[float64](), g)
	require.ErrorIs(t, err, ErrNoConversionPath)
	require.ErrorIs(t, err, ErrConversion)

	_, err = ConvertTo[int]("seven", g)
	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, reflect.TypeFor[string](), convErr.Source)
	assert.Equal(t, reflect.TypeFor[int](), convErr.Target)
}

func TestConvertIsNoOpForExactType(t *testing.T) {
	t.Parallel()

	called := false
	r := NewRegistry()
	require.NoError(t, r.Register(NewAdapter("a-to-b", WeightDefault, func(a typeA) (typeB, error) {
		called = true
		return typeB(a), nil
	})))

	in := typeA{v: 3}
	out, err := Convert(in, reflect.TypeFor[typeA](), r.Graph())
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.False(t, called)
}

func TestAdaptersWithinEdgeRunByAscendingWeight(t *testing.T) {
	t.Parallel()

	var calls []string
	adapter := func(name string, weight float64, fail bool) Adapter {
		return NewAdapter(name, weight, func(a typeA) (typeB, error) {
			calls = append(calls, name)
			if fail {
				return typeB{}, errors.New(name + " failed")
			}
			return typeB{v: a.v * 10}, nil
		})
	}

	r := NewRegistry()
	require.NoError(t, r.Register(adapter("heavy", WeightDiscouraged, false)))
	require.NoError(t, r.Register(adapter("light", WeightDefault, false)))
	g := r.Graph()

	edge := g.Edge(reflect.TypeFor[typeA](), reflect.TypeFor[typeB]())
	require.Len(t, edge, 2)
	assert.Equal(t, "light", edge[0].Name)

	out, err := ConvertTo[typeB](typeA{v: 1}, g)
	require.NoError(t, err)
	assert.Equal(t, typeB{v: 10}, out)
	assert.Equal(t, []string{"light"}, calls)

	calls = nil
	r2 := NewRegistry()
	require.NoError(t, r2.Register(adapter("heavy", WeightDiscouraged, false)))
	require.NoError(t, r2.Register(adapter("light", WeightDefault, true)))
	_, err = ConvertTo[typeB](typeA{v: 1}, r2.Graph())
	require.NoError(t, err)
	assert.Equal(t, []string{"light", "heavy"}, calls)
}

func TestConvertFallsBackToNextPath(t *testing.T) {
	t.Parallel()

	var calls []string
	r := NewRegistry()
	r.MustRegister(
		NewAdapter("a-b", 2, func(a typeA) (typeB, error) {
			calls = append(calls, "a-b")
			return typeB(a), nil
		}),
		NewAdapter("b-d", 3, func(typeB) (typeD, error) {
			calls = append(calls, "b-d")
			return typeD{}, errors.New("b-d failed")
		}),
		NewAdapter("a-c", 4, func(a typeA) (typeC, error) {
			calls = append(calls, "a-c")
			return typeC(a), nil
		}),
		NewAdapter("c-d", 4, func(c typeC) (typeD, error) {
			calls = append(calls, "c-d")
			return typeD{v: c.v + 1}, nil
		}),
	)
	g := r.Graph()

	converters, err := GetConverters(g, reflect.TypeFor[typeA](), reflect.TypeFor[typeD]())
	require.NoError(t, err)
	require.Len(t, converters, 2)
	assert.InDelta(t, 5, converters[0].Cost(), 1e-9)
	assert.InDelta(t, 8, converters[1].Cost(), 1e-9)
	assert.Equal(t, 2, converters[0].Len())

	out, err := ConvertTo[typeD](typeA{v: 1}, g)
	require.NoError(t, err)
	assert.Equal(t, typeD{v: 2}, out)
	assert.Equal(t, []string{"a-b", "b-d", "a-c", "c-d"}, calls)
}

func TestConvertRecoversFromPanics(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.MustRegister(
		NewAdapter("panics", WeightDefault, func(typeA) (typeB, error) {
			panic("boom")
		}),
		NewAdapter("works", WeightDiscouraged, func(a typeA) (typeB, error) {
			return typeB(a), nil
		}),
	)
	out, err := ConvertTo[typeB](typeA{v: 4}, r.Graph())
	require.NoError(t, err)
	assert.Equal(t, typeB{v: 4}, out)
}

func TestConvertUsesInterfaceAncestors(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(NewAdapter("stringer", WeightDefault, func(s fmt.Stringer) (string, error) {
		return s.String(), nil
	})))

	out, err := ConvertTo[string](label("x"), r.Graph())
	require.NoError(t, err)
	assert.Equal(t, "label:x", out)

	converters, err := GetConverters(r.Graph(), reflect.TypeFor[label](), reflect.TypeFor[fmt.Stringer]())
	require.NoError(t, err)
	require.Len(t, converters, 1)
	assert.Zero(t, converters[0].Len())
}

func TestConverted(t *testing.T) {
	t.Parallel()

	g := intStringRegistry(t).Graph()
	values := slices.Values([]any{1, "x", 2.5, 3})

	var got []any
	for v, err := range Converted(values, reflect.TypeFor[string](), g, true) {
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []any{"1", "x", "3"}, got)

	got = nil
	var lastErr error
	for v, err := range Converted(values, reflect.TypeFor[string](), g, false) {
		if err != nil {
			lastErr = err
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []any{"1", "x"}, got)
	require.ErrorIs(t, lastErr, ErrNoConversionPath)
}

func TestRegisterValidates(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	valid := NewAdapter("ok", WeightDefault, func(a typeA) (typeB, error) { return typeB(a), nil })

	negative := valid
	negative.Weight = -1
	require.Error(t, r.Register(negative))

	noFn := valid
	noFn.Fn = nil
	require.Error(t, r.Register(noFn))

	self := valid
	self.Returns = self.Expects
	require.Error(t, r.Register(self))

	require.Error(t, r.Register(Adapter{Name: "empty", Fn: valid.Fn}))
	assert.Empty(t, r.Adapters())
}

func TestGraphIsSnapshot(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.MustRegister(NewAdapter("a-b", WeightDefault, func(a typeA) (typeB, error) { return typeB(a), nil }))
	before := r.Graph()
	assert.Same(t, before, r.Graph())

	r.MustRegister(NewAdapter("b-c", WeightDefault, func(b typeB) (typeC, error) { return typeC(b), nil }))
	after := r.Graph()
	assert.NotSame(t, before, after)

	_, err := GetConverters(before, reflect.TypeFor[typeA](), reflect.TypeFor[typeC]())
	require.ErrorIs(t, err, ErrNoConversionPath)
	_, err = GetConverters(after, reflect.TypeFor[typeA](), reflect.TypeFor[typeC]())
	require.NoError(t, err)
	assert.Len(t, before.Types(), 2)
}

func TestConvertNil(t *testing.T) {
	t.Parallel()

	_, err := Convert(nil, reflect.TypeFor[string](), intStringRegistry(t).Graph())
	require.ErrorIs(t, err, ErrConversion)
}

func TestConvertWalksPathsInCostOrder(t *testing.T) {
	t.Parallel()

	var calls []string
	step := func(name string, fail bool) func(any) (any, error) {
		return func(v any) (any, error) {
			calls = append(calls, name)
			if fail {
				return nil, fmt.Errorf("%s failed", name)
			}
			return v, nil
		}
	}
	edge := func(name string, from, to reflect.Type, weight float64, fail bool) Adapter {
		return Adapter{Name: name, Expects: from, Returns: to, Weight: weight, Fn: step(name, fail)}
	}
	a, b, c := reflect.TypeFor[typeA](), reflect.TypeFor[typeB](), reflect.TypeFor[typeC]()
	d, e := reflect.TypeFor[typeD](), reflect.TypeFor[typeE]()

	r := NewRegistry()
	r.MustRegister(
		edge("a-d", a, d, 10, false),
		edge("a-b", a, b, 1, false),
		edge("b-d", b, d, 1, true),
		edge("a-c", a, c, 1, false),
		edge("c-d", c, d, 2, true),
		edge("a-e", a, e, 2, false),
		edge("e-d", e, d, 2, true),
		edge("b-c", b, c, 4, false),
	)
	g := r.Graph()

	converters, err := GetConverters(g, a, d)
	require.NoError(t, err)
	costs := make([]float64, 0, len(converters))
	for _, conv := range converters {
		costs = append(costs, conv.Cost())
	}
	assert.Equal(t, []float64{2, 3, 4, 7, 10}, costs)

	out, err := Convert(typeA{v: 3}, d, g)
	require.NoError(t, err)
	assert.Equal(t, typeA{v: 3}, out)
	assert.Equal(t, []string{
		"a-b", "b-d",
		"a-c", "c-d",
		"a-e", "e-d",
		"a-b", "b-c", "c-d",
		"a-d",
	}, calls)
}

func TestConvertStopsAtFirstWorkingPath(t *testing.T) {
	t.Parallel()

	var calls []string
	r := NewRegistry()
	r.MustRegister(
		NewAdapter("a-b", 1, func(a typeA) (typeB, error) {
			calls = append(calls, "a-b")
			return typeB(a), nil
		}),
		NewAdapter("b-d", 1, func(b typeB) (typeD, error) {
			calls = append(calls, "b-d")
			return typeD(b), nil
		}),
		NewAdapter("a-d", 5, func(a typeA) (typeD, error) {
			calls = append(calls, "a-d")
			return typeD(a), nil
		}),
	)
	out, err := ConvertTo[typeD](typeA{v: 7}, r.Graph())
	require.NoError(t, err)
	assert.Equal(t, typeD{v: 7}, out)
	assert.Equal(t, []string{"a-b", "b-d"}, calls)
}

func TestConvertLogsAttemptsAndAdapterFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	r := NewRegistry()
	r.SetLogger(zap.New(core))
	r.MustRegister(
		NewAdapter("broken", WeightDefault, func(typeA) (typeB, error) {
			return typeB{}, errors.New("broken adapter")
		}),
		NewAdapter("works", WeightDiscouraged, func(a typeA) (typeB, error) {
			return typeB(a), nil
		}),
	)

	out, err := ConvertTo[typeB](typeA{v: 2}, r.Graph())
	require.NoError(t, err)
	assert.Equal(t, typeB{v: 2}, out)

	assert.Equal(t, 1, logs.FilterMessage("trying conversion path").Len())
	failures := logs.FilterMessage("adapter failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, zapcore.DebugLevel, failures[0].Level)
	fields := failures[0].ContextMap()
	assert.Contains(t, fields["adapter"], "broken")
	assert.Equal(t, "broken adapter", fields["error"])
}

func TestConvertKeepsEveryAdapterError(t *testing.T) {
	t.Parallel()

	errFirst := errors.New("first")
	errSecond := errors.New("second")
	r := NewRegistry()
	r.MustRegister(
		NewAdapter("first", WeightDefault, func(typeA) (typeB, error) { return typeB{}, errFirst }),
		NewAdapter("second", WeightDiscouraged, func(typeA) (typeB, error) { return typeB{}, errSecond }),
	)
	_, err := ConvertTo[typeB](typeA{}, r.Graph())
	require.ErrorIs(t, err, ErrConversion)
	assert.ErrorIs(t, err, errFirst)
	assert.ErrorIs(t, err, errSecond)
}
