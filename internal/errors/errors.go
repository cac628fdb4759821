// Package errors provides the enhanced error type used across liferaft.
// It is a drop-in replacement for the standard errors package (Is, As, New
// are re-exported) plus a builder that attaches a component, a category and
// structured context to an error, and optionally reports it to telemetry.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// Category classifies an error for triage and metrics.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryNetwork    Category = "network"
	CategoryStorage    Category = "storage"
	CategoryNotFound   Category = "not-found"
	CategoryState      Category = "state"
	CategoryGeneric    Category = "generic"
)

// TelemetryReporter receives built errors when telemetry is enabled.
// The sentry-backed implementation lives in telemetry.go; tests install
// their own.
type TelemetryReporter interface {
	CaptureError(err error, component string, category Category, context map[string]any)
}

var reporter atomic.Pointer[TelemetryReporter]

// SetTelemetryReporter installs the process-wide telemetry reporter.
// Passing nil disables reporting.
func SetTelemetryReporter(r TelemetryReporter) {
	if r == nil {
		reporter.Store(nil)
		return
	}
	reporter.Store(&r)
}

// EnhancedError carries a component, category and key/value context.
type EnhancedError struct {
	Err       error
	component string
	category  Category
	context   map[string]any
}

func (e *EnhancedError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.component != "" {
		fmt.Fprintf(&b, " [component=%s]", e.component)
	}
	if e.category != "" {
		fmt.Fprintf(&b, " [category=%s]", e.category)
	}
	if len(e.context) > 0 {
		keys := make([]string, 0, len(e.context))
		for k := range e.context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " [%s=%v]", k, e.context[k])
		}
	}
	return b.String()
}

func (e *EnhancedError) Unwrap() error { return e.Err }

// Component returns the component that produced the error.
func (e *EnhancedError) Component() string { return e.component }

// Category returns the error's category.
func (e *EnhancedError) Category() Category { return e.category }

// Context returns the value stored under key, if any.
func (e *EnhancedError) Context(key string) (any, bool) {
	v, ok := e.context[key]
	return v, ok
}

// Builder assembles an EnhancedError.
type Builder struct {
	err       error
	component string
	category  Category
	context   map[string]any
}

// New wraps a plain message in a builder.
func New(msg string) *Builder {
	return &Builder{err: errors.New(msg), category: CategoryGeneric}
}

// Newf wraps a formatted message in a builder. %w is supported.
func Newf(format string, args ...any) *Builder {
	return &Builder{err: fmt.Errorf(format, args...), category: CategoryGeneric}
}

// Wrap starts a builder around an existing error.
func Wrap(err error) *Builder {
	return &Builder{err: err, category: CategoryGeneric}
}

// Component records the subsystem that produced the error.
func (b *Builder) Component(c string) *Builder {
	b.component = c
	return b
}

// Category records the error category.
func (b *Builder) Category(c Category) *Builder {
	b.category = c
	return b
}

// Context attaches a key/value pair.
func (b *Builder) Context(key string, value any) *Builder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build finalizes the error and reports it to telemetry when enabled.
func (b *Builder) Build() error {
	e := &EnhancedError{
		Err:       b.err,
		component: b.component,
		category:  b.category,
		context:   b.context,
	}
	if p := reporter.Load(); p != nil {
		(*p).CaptureError(e, e.component, e.category, e.context)
	}
	return e
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

// Join wraps the standard errors.Join.
func Join(errs ...error) error { return errors.Join(errs...) }
