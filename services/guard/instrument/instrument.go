// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package instrument rebinds host functions through the guard's
// observation pipeline.
//
// There is no runtime method patching in Go, so instrumentation is
// explicit: Wrap decorates a function value, and Tracker rebinds
// func-typed struct fields in place, saving the original so Untrack
// restores the exact value that was there before.
package instrument

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	// ErrNotFunc is returned when the wrap target is not a function.
	ErrNotFunc = errors.New("instrument: target is not a function")

	// ErrNotStruct is returned when a Tracker owner is not a pointer to a
	// struct.
	ErrNotStruct = errors.New("instrument: owner is not a pointer to a struct")

	// ErrNoSuchField is returned when the named field does not exist or is
	// not assignable.
	ErrNoSuchField = errors.New("instrument: no such assignable field")

	// ErrNotTracked is returned by Untrack for a field that was never
	// tracked.
	ErrNotTracked = errors.New("instrument: field is not tracked")
)

// Recorder observes instrumented calls. Record runs before the wrapped
// function body; returning block true suppresses the call, in which case
// the wrapper returns zero values.
type Recorder interface {
	Record(name string) (block bool)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(name string) bool

// Record implements Recorder.
func (f RecorderFunc) Record(name string) bool { return f(name) }

// Wrap returns a function with fn's exact signature that reports each
// invocation to rec under name before running fn. Panics and error
// returns from fn propagate unchanged; the call is already on the ledger
// when they do. When rec blocks the call, fn is skipped and zero values
// are returned.
func Wrap[F any](rec Recorder, name string, fn F) (F, error) {
	var zero F
	fnVal := reflect.ValueOf(fn)
	if !fnVal.IsValid() || fnVal.Kind() != reflect.Func {
		return zero, fmt.Errorf("%w: %T", ErrNotFunc, fn)
	}
	if fnVal.IsNil() {
		return zero, fmt.Errorf("%w: nil function", ErrNotFunc)
	}
	return wrapValue(rec, name, fnVal).Interface().(F), nil
}

// wrapValue builds the reflect.MakeFunc decorator around fnVal.
func wrapValue(rec Recorder, name string, fnVal reflect.Value) reflect.Value {
	fnType := fnVal.Type()
	return reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		if rec.Record(name) {
			out := make([]reflect.Value, fnType.NumOut())
			for i := range out {
				out[i] = reflect.Zero(fnType.Out(i))
			}
			return out
		}
		if fnType.IsVariadic() {
			return fnVal.CallSlice(args)
		}
		return fnVal.Call(args)
	})
}

type trackedField struct {
	owner    reflect.Value
	field    string
	original reflect.Value
}

// Tracker instruments func-typed struct fields in place. Track replaces
// the field's value with a wrapped version; Untrack restores the original
// function value by reference, so after a Track/Untrack round trip the
// field holds exactly what it held before.
//
// Thread Safety:
//
//	Track and Untrack are safe for concurrent use. The rebinding itself
//	is only as safe as any other write to the owner's field; hosts
//	should track before the owner goes into service.
type Tracker struct {
	mu      sync.Mutex
	rec     Recorder
	tracked map[trackKey]trackedField
}

// trackKey identifies a tracked field by owner address. Entries pin the
// owner through their stored reflect.Value, so an address in the map can
// never be recycled while its entry is live.
type trackKey struct {
	owner uintptr
	field string
}

// NewTracker creates a Tracker reporting through rec.
func NewTracker(rec Recorder) *Tracker {
	return &Tracker{rec: rec, tracked: make(map[trackKey]trackedField)}
}

// Track wraps the func-typed field on owner, which must be a non-nil
// pointer to a struct. The ledger name is the owner's type name qualified
// with the field, e.g. "Engine.Render". Tracking an already-tracked field
// is a no-op. The owner is left unmodified on error.
func (t *Tracker) Track(owner any, field string) error {
	structVal, err := ownerStruct(owner)
	if err != nil {
		return err
	}

	f := structVal.FieldByName(field)
	if !f.IsValid() || !f.CanSet() {
		return fmt.Errorf("%w: %s.%s", ErrNoSuchField, structVal.Type().Name(), field)
	}
	if f.Kind() != reflect.Func {
		return fmt.Errorf("%w: field %s.%s is %s", ErrNotFunc, structVal.Type().Name(), field, f.Kind())
	}
	if f.IsNil() {
		return fmt.Errorf("%w: field %s.%s is nil", ErrNotFunc, structVal.Type().Name(), field)
	}

	key := trackKey{owner: structVal.Addr().Pointer(), field: field}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tracked[key]; ok {
		return nil
	}

	name := structVal.Type().Name() + "." + field
	original := reflect.ValueOf(f.Interface())
	f.Set(wrapValue(t.rec, name, original))
	t.tracked[key] = trackedField{owner: structVal, field: field, original: original}
	return nil
}

// Untrack restores the original function value on a tracked field.
func (t *Tracker) Untrack(owner any, field string) error {
	structVal, err := ownerStruct(owner)
	if err != nil {
		return err
	}
	key := trackKey{owner: structVal.Addr().Pointer(), field: field}

	t.mu.Lock()
	defer t.mu.Unlock()
	tf, ok := t.tracked[key]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrNotTracked, structVal.Type().Name(), field)
	}
	tf.owner.FieldByName(tf.field).Set(tf.original)
	delete(t.tracked, key)
	return nil
}

// UntrackAll restores every tracked field.
func (t *Tracker) UntrackAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, tf := range t.tracked {
		tf.owner.FieldByName(tf.field).Set(tf.original)
		delete(t.tracked, key)
	}
}

// Tracked returns the number of currently tracked fields.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracked)
}

func ownerStruct(owner any) (reflect.Value, error) {
	v := reflect.ValueOf(owner)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: %T", ErrNotStruct, owner)
	}
	return v.Elem(), nil
}
