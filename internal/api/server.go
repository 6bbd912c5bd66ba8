// Package api implements the HTTP surface: sandbox and lambda listing,
// lambda CRUD, and the execution endpoint that bridges HTTP to the stream
// multiplexer.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/freeitw/freeitw/internal/apierr"
	"github.com/freeitw/freeitw/internal/catalog"
)

// Server holds the dependencies every handler needs.
type Server struct {
	Catalog *catalog.Catalog
	Log     *slog.Logger
}

// NewServer wires an http.Handler implementing the control plane's HTTP
// surface against cat.
func NewServer(cat *catalog.Catalog, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{Catalog: cat, Log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sandboxs", s.handleSandboxsIndex)
	mux.HandleFunc("GET /lambdas", s.handleLambdasIndex)
	mux.HandleFunc("PUT /lambdas", s.handleLambdasInsert)
	mux.HandleFunc("GET /lambdas/{name}", s.handleLambdaGet)
	mux.HandleFunc("DELETE /lambdas/{name}", s.handleLambdaDelete)
	mux.HandleFunc("POST /lambdas/{name}/exec", s.handleLambdaExec)
	return mux
}

// writeAPIError renders err as a pre-response HTTP status + text body. It
// must only be called before any bytes of a streaming response have been
// written.
func writeAPIError(w http.ResponseWriter, log *slog.Logger, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Generic(err)
	}
	if apiErr.StatusCode() >= 500 {
		log.Error("request failed", "error", apiErr)
	}
	http.Error(w, apiErr.Error(), apiErr.StatusCode())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}
