package provider

import (
	"context"
	"fmt"
)

// Router implements Port by dispatching each call to the VendorAdapter
// registered for its provider Name. Adding a provider means registering
// another adapter here, not touching any caller of Port.
type Router struct {
	*Resolver
	vendors map[Name]VendorAdapter
}

// NewRouter builds a Router over a credential resolver and a set of
// per-vendor adapters.
func NewRouter(resolver *Resolver, vendors map[Name]VendorAdapter) *Router {
	return &Router{Resolver: resolver, vendors: vendors}
}

func (r *Router) vendor(name Name) (VendorAdapter, error) {
	v, ok := r.vendors[name]
	if !ok {
		return nil, fmt.Errorf("no provider adapter registered for %q", name)
	}
	return v, nil
}

// PlaceCall dispatches to the vendor adapter for name.
func (r *Router) PlaceCall(ctx context.Context, name Name, creds Credentials, from, to string, cb Callbacks) (string, error) {
	v, err := r.vendor(name)
	if err != nil {
		return "", err
	}
	return v.PlaceCall(ctx, creds, from, to, cb)
}

// NormalizeWebhook dispatches to the vendor adapter for name.
func (r *Router) NormalizeWebhook(ctx context.Context, name Name, rawPayload []byte, tokenFromURL string) (NormalizedWebhook, error) {
	v, err := r.vendor(name)
	if err != nil {
		return NormalizedWebhook{}, err
	}
	return v.NormalizeWebhook(ctx, rawPayload, tokenFromURL)
}
