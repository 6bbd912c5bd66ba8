package api

import "net/http"

func (s *Server) handleSandboxsIndex(w http.ResponseWriter, r *http.Request) {
	p := parsePagination(r)
	writeJSON(w, s.Catalog.Sandboxs.List(p.offset, p.limit))
}
