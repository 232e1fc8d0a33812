// Package failfast holds panic helpers for programming errors. Runtime
// failures (transport down, queue full) are returned as errors; these
// helpers are for contract violations that should never survive testing.
package failfast

import (
	"fmt"
	"reflect"
	"runtime/debug"
)

// violation builds the panic value with the stack appended, so the
// report survives any recover-and-log layer above the framework.
func violation(format string, args ...interface{}) error {
	return fmt.Errorf("fail-fast: "+format+"\n%s", append(args, debug.Stack())...)
}

// Err panics if err != nil.
func Err(err error) {
	if err != nil {
		panic(violation("%v", err))
	}
}

// If panics if condition is false.
func If(condition bool, message string, args ...interface{}) {
	if !condition {
		panic(violation(message, args...))
	}
}

// NotNil panics if ptr is nil, handling typed nil pointers and nil
// function values.
func NotNil(ptr interface{}, name string) {
	if isNil(ptr) {
		panic(violation("%s is nil", name))
	}
}

func isNil(ptr interface{}) bool {
	if ptr == nil {
		return true
	}
	v := reflect.ValueOf(ptr)
	switch v.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Slice, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
