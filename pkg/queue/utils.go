package queue

import (
	"fmt"
	"strings"
)

// qualifiedStructName returns "pkg.Type" for v, ignoring pointer indirection.
// Typed handlers and the Enqueuer both derive task names from it, so the two always agree.
func qualifiedStructName(v any) string {
	return strings.TrimLeft(fmt.Sprintf("%T", v), "*")
}

// TaskNameOf returns the task name derived for payloads of type T
func TaskNameOf[T any]() string {
	var zero T
	return qualifiedStructName(zero)
}
