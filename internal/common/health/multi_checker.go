package health

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

type namedChecker struct {
	name    string
	checker Checker
}

// MultiChecker is healthy when every registered check is.
// Checks may be added while the handler is already serving.
type MultiChecker struct {
	mu     sync.RWMutex
	checks []namedChecker
}

func NewMultiChecker() *MultiChecker {
	return &MultiChecker{}
}

// Add registers checker under name. Failures are reported prefixed with the name.
func (mc *MultiChecker) Add(name string, checker Checker) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.checks = append(mc.checks, namedChecker{name: name, checker: checker})
}

func (mc *MultiChecker) Check() error {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	var errs *multierror.Error
	for _, c := range mc.checks {
		errs = multierror.Append(errs, errors.WithMessage(c.checker.Check(), c.name))
	}
	return errs.ErrorOrNil()
}
