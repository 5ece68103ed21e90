// Package assert panics on broken internal invariants. The router recovers
// and answers 500.
package assert

import (
	"fmt"
	"reflect"
)

func formatMsg(format string, args ...interface{}) string {
	return "assertion failed: " + fmt.Sprintf(format, args...)
}

func isNil(obj any) bool {
	if obj == nil {
		return true
	}
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

func NotNil(obj any, format string, args ...interface{}) {
	if isNil(obj) {
		panic(formatMsg(format, args...))
	}
}

func IsNil(obj any, format string, args ...interface{}) {
	if !isNil(obj) {
		panic(formatMsg(format, args...))
	}
}
