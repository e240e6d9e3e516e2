// Package transport declares the network collaborator the engine consumes.
// The engine never speaks HTTP itself; it hands an Endpoint and a payload
// to a Transport and expects classified errors back.
package transport

import (
	"context"
	"maps"
	"net/url"
	"slices"
	"strings"
)

// Endpoint names a backend resource. Path may contain {name} placeholders
// that are filled from Params by Resolve.
type Endpoint struct {
	Path   string
	Params map[string]string
}

// At builds an endpoint from a path and alternating name/value pairs.
func At(path string, kv ...string) Endpoint {
	e := Endpoint{Path: path}
	if len(kv) > 1 {
		e.Params = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			e.Params[kv[i]] = kv[i+1]
		}
	}
	return e
}

// Resolve substitutes {name} placeholders in Path with escaped Params
// values. Params not referenced by the path are appended as a sorted
// query string.
func (e Endpoint) Resolve() string {
	path := e.Path
	var query []string
	for _, k := range slices.Sorted(maps.Keys(e.Params)) {
		ph := "{" + k + "}"
		v := e.Params[k]
		if strings.Contains(path, ph) {
			path = strings.ReplaceAll(path, ph, url.PathEscape(v))
			continue
		}
		query = append(query, url.QueryEscape(k)+"="+url.QueryEscape(v))
	}
	if len(query) > 0 {
		path += "?" + strings.Join(query, "&")
	}
	return path
}

func (e Endpoint) String() string { return e.Resolve() }

// Transport performs requests against the backend. Implementations decode
// the response body into out (when non-nil) and classify failures with
// the failure package: unclassified errors count as transport failures,
// context errors as cancellations.
type Transport interface {
	Fetch(ctx context.Context, ep Endpoint, out any) error
	Send(ctx context.Context, ep Endpoint, body, out any) error
	Update(ctx context.Context, ep Endpoint, body, out any) error
	Delete(ctx context.Context, ep Endpoint) error
}
