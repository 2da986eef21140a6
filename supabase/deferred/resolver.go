package deferred

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// replay runs chain against backend and settles on the final value,
// delegating to it when it is itself Awaitable. Steps run under mu so the
// steps of two chains never interleave; the delegated await does not hold it.
func replay(ctx context.Context, mu *sync.Mutex, backend any, chain Chain) (any, error) {
	cur, err := func() (any, error) {
		mu.Lock()
		defer mu.Unlock()
		return replaySteps(ctx, backend, chain)
	}()
	if err != nil {
		return nil, err
	}

	if a, ok := cur.(Awaitable); ok {
		return a.Await(ctx)
	}
	return cur, nil
}

func replaySteps(ctx context.Context, backend any, chain Chain) (any, error) {
	cur := backend
	for i := 0; i < chain.Len(); i++ {
		step := chain.At(i)
		next, err := applyStep(ctx, cur, step)
		if err != nil {
			return nil, &StepError{Index: i, Step: step, Err: err}
		}
		cur = next
	}
	return cur, nil
}

func applyStep(ctx context.Context, cur any, step CallStep) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				err = fmt.Errorf("panic: %w", rerr)
				return
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if cur == nil {
		return nil, fmt.Errorf("%w: %q on nil value", ErrNoSuchMember, step.Name)
	}

	v := reflect.ValueOf(cur)
	if m := v.MethodByName(step.Name); m.IsValid() {
		return invoke(ctx, m, step.Args)
	}

	member, ok := lookupMember(v, step.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q on %T", ErrNoSuchMember, step.Name, cur)
	}
	if member.Kind() == reflect.Func {
		if member.IsNil() {
			return nil, fmt.Errorf("%q is a nil func", step.Name)
		}
		return invoke(ctx, member, step.Args)
	}
	return member.Interface(), nil
}

// lookupMember finds an exported struct field or a string-keyed map entry.
func lookupMember(v reflect.Value, name string) (reflect.Value, bool) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}

	var member reflect.Value
	switch v.Kind() {
	case reflect.Struct:
		sf, ok := v.Type().FieldByName(name)
		if !ok || !sf.IsExported() {
			return reflect.Value{}, false
		}
		member = v.FieldByIndex(sf.Index)
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return reflect.Value{}, false
		}
		member = v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
		if !member.IsValid() {
			return reflect.Value{}, false
		}
	default:
		return reflect.Value{}, false
	}

	if member.Kind() == reflect.Interface && !member.IsNil() {
		member = member.Elem()
	}
	return member, true
}

func invoke(ctx context.Context, fn reflect.Value, args []any) (any, error) {
	t := fn.Type()

	if t.NumIn() > 0 && t.In(0) == contextType {
		if len(args) == 0 {
			args = []any{ctx}
		} else if _, ok := args[0].(context.Context); !ok {
			args = append([]any{ctx}, args...)
		}
	}

	in, err := buildArgs(t, args)
	if err != nil {
		return nil, err
	}

	out := fn.Call(in)
	if len(out) == 0 {
		return nil, nil
	}

	last := out[len(out)-1]
	if t.Out(len(out)-1) == errorType {
		if !last.IsNil() {
			return nil, last.Interface().(error)
		}
		if len(out) == 1 {
			return nil, nil
		}
	}
	return out[0].Interface(), nil
}

func buildArgs(t reflect.Type, args []any) ([]reflect.Value, error) {
	n := t.NumIn()
	if t.IsVariadic() {
		if len(args) < n-1 {
			return nil, fmt.Errorf("want at least %d arguments, got %d", n-1, len(args))
		}
	} else if len(args) != n {
		return nil, fmt.Errorf("want %d arguments, got %d", n, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var pt reflect.Type
		if t.IsVariadic() && i >= n-1 {
			pt = t.In(n - 1).Elem()
		} else {
			pt = t.In(i)
		}
		v, err := convertArg(arg, pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in[i] = v
	}
	return in, nil
}

func convertArg(arg any, pt reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch pt.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(pt), nil
		default:
			return reflect.Value{}, fmt.Errorf("cannot use nil as %s", pt)
		}
	}

	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(pt) {
		return v, nil
	}
	if isNumeric(v.Kind()) && isNumeric(pt.Kind()) {
		return v.Convert(pt), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", arg, pt)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
