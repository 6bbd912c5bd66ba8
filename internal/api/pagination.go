package api

import (
	"net/http"
	"strconv"
)

// pagination holds the offset/limit query parameters shared by the index
// endpoints. limit defaults to -1 ("no bound", catalog.Store.List's
// sentinel for the unset case) so that an explicit "?limit=0" -- which
// means "return nothing" -- stays distinguishable from the parameter being
// absent entirely, per spec's "limit = maximum representable" default.
type pagination struct {
	offset int
	limit  int
}

func parsePagination(r *http.Request) pagination {
	q := r.URL.Query()
	p := pagination{limit: -1}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.offset = n
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.limit = n
		}
	}
	return p
}
