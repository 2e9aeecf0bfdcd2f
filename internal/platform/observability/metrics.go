// Package observability holds the prometheus plumbing shared by components.
package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "wagateway"

// Registrar registers the collectors of one component and remembers the
// errors. A nil registerer keeps every collector detached, which is what
// tests use.
type Registrar struct {
	reg  prometheus.Registerer
	errs []error
}

func NewRegistrar(reg prometheus.Registerer) *Registrar {
	return &Registrar{reg: reg}
}

func (r *Registrar) Err() error {
	return errors.Join(r.errs...)
}

// Adopt registers c and returns the collector callers must write to. When an
// equal collector is already registered, that one is returned so a rebuilt
// component keeps feeding the exported series.
func Adopt[T prometheus.Collector](r *Registrar, c T) T {
	if r == nil || r.reg == nil {
		return c
	}
	err := r.reg.Register(c)
	if err == nil {
		return c
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing
		}
	}
	r.errs = append(r.errs, err)
	return c
}
