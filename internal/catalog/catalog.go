package catalog

import (
	"github.com/freeitw/freeitw/internal/lambda"
	"github.com/freeitw/freeitw/internal/sandboxprovider"
)

// Catalog holds the two name-keyed containers the control plane serves:
// registered lambdas and configured sandboxes. Both are Stores, so every
// access already follows lock -> copy pointer -> unlock.
type Catalog struct {
	Lambdas  *Store[*lambda.Lambda]
	Sandboxs *Store[*sandboxprovider.Sandbox]
}

// New returns an empty Catalog. Sandboxes are typically populated once at
// startup from config; lambdas are populated over the lifetime of the
// process via the HTTP API.
func New() *Catalog {
	return &Catalog{
		Lambdas:  NewStore[*lambda.Lambda](),
		Sandboxs: NewStore[*sandboxprovider.Sandbox](),
	}
}
