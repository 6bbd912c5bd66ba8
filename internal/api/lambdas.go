package api

import (
	"encoding/json"
	"net/http"

	"github.com/freeitw/freeitw/internal/apierr"
	"github.com/freeitw/freeitw/internal/lambda"
)

func (s *Server) handleLambdasIndex(w http.ResponseWriter, r *http.Request) {
	p := parsePagination(r)
	writeJSON(w, s.Catalog.Lambdas.List(p.offset, p.limit))
}

func (s *Server) handleLambdasInsert(w http.ResponseWriter, r *http.Request) {
	var req lambda.InsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, s.Log, apierr.BadRequest(err))
		return
	}
	l, err := req.Lambda()
	if err != nil {
		writeAPIError(w, s.Log, apierr.BadRequest(err))
		return
	}
	if err := validateLambda(l); err != nil {
		writeAPIError(w, s.Log, apierr.BadRequest(err))
		return
	}

	s.Catalog.Lambdas.Set(req.Name, l)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleLambdaGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	l, ok := s.Catalog.Lambdas.Get(name)
	if !ok {
		writeAPIError(w, s.Log, apierr.NotFound("lambda "+name))
		return
	}
	writeJSON(w, l)
}

func (s *Server) handleLambdaDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.Catalog.Lambdas.Delete(name) {
		writeAPIError(w, s.Log, apierr.NotFound("lambda "+name))
		return
	}
	w.WriteHeader(http.StatusOK)
}
