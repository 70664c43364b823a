package logging

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Stacktrace is the log field the innermost recorded stack is written to.
const Stacktrace = "stacktrace"

type stackTracer interface {
	StackTrace() errors.StackTrace
}

type causer interface {
	Cause() error
}

// WithStacktrace attaches err, plus its stack if pkg/errors recorded one, to logger.
func WithStacktrace(logger logrus.FieldLogger, err error) *logrus.Entry {
	entry := logger.WithError(err)
	if stack := ExtractStack(err); stack != nil {
		entry = entry.WithField(Stacktrace, stack)
	}
	return entry
}

// ExtractStack returns the stack of the outermost error in the chain that has one.
func ExtractStack(err error) errors.StackTrace {
	for err != nil {
		switch e := err.(type) {
		case stackTracer:
			return e.StackTrace()
		case causer:
			err = e.Cause()
		default:
			err = errors.Unwrap(err)
		}
	}
	return nil
}
