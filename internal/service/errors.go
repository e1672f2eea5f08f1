package service

import (
	"errors"
	"fmt"
)

var (
	ErrMissingInterfaceConfig    = errors.New("service has no interface configured")
	ErrInterfaceImport           = errors.New("interface module could not be loaded")
	ErrInterfaceAttributeMissing = errors.New("interface class not found in module")
)

// ResolveError names the service and the locator that failed to resolve.
type ResolveError struct {
	Service string
	Locator string
	Err     error
}

func (e *ResolveError) Error() string {
	if e.Locator == "" {
		return fmt.Sprintf("service %q: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("service %q (interface %q): %v", e.Service, e.Locator, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }
