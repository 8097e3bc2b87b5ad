// Package errors maps errors onto short, stable class names for metric tags and notifications.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"
)

const (
	ClassTimeout  = "timeout"
	ClassCanceled = "canceled"
	ClassUnknown  = "unknown"
)

// Classify returns a normalized class for err. Context errors get fixed names; anything else
// is named after the innermost concrete type, e.g. "pgconn_pgerror".
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case goerrors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case goerrors.Is(err, context.Canceled):
		return ClassCanceled
	}

	for {
		inner := goerrors.Unwrap(err)
		if inner == nil {
			break
		}
		err = inner
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ClassUnknown
	}
	name := strings.ReplaceAll(strings.ToLower(t.String()), ".", "_")
	if name == "" {
		return ClassUnknown
	}
	return name
}
