package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/freeitw/freeitw/internal/apierr"
	"github.com/freeitw/freeitw/internal/lambda"
	"github.com/freeitw/freeitw/internal/stream"
)

// handleLambdaExec implements POST /lambdas/{name}/exec. It resolves the
// named lambda and sandbox under the catalog's read lock, releases the lock
// before doing anything that can block, spawns the child, and hands it to
// the stream multiplexer. The handler goroutine is then the multiplexer's
// consumer: it ranges over the output channel, writing and flushing each
// chunk, which is this server's equivalent of "return a streaming response
// body" -- net/http has no way to hand off a half-written response to a
// detached task, so the handler simply stays alive for as long as the
// stream does.
func (s *Server) handleLambdaExec(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	q := r.URL.Query()
	traceID := uuid.NewString()
	log := s.Log.With("trace_id", traceID, "lambda", name)

	sandboxName := q.Get("sandbox")
	if sandboxName == "" {
		sandboxName = "host"
	}
	args := strings.Fields(q.Get("args"))
	printStatus := q.Get("status") == "true" || q.Get("status") == "1"

	// Acquire, clone, release -- no lock is held past this point.
	l, ok := s.Catalog.Lambdas.Get(name)
	if !ok {
		writeAPIError(w, log, apierr.NotFound("lambda "+name))
		return
	}
	sb, ok := s.Catalog.Sandboxs.Get(sandboxName)
	if !ok {
		writeAPIError(w, log, apierr.NotFound("sandbox "+sandboxName))
		return
	}

	child, err := lambda.Spawn(l, sb, args)
	if err != nil {
		writeAPIError(w, log, err)
		return
	}
	log.Info("spawned execution", "sandbox", sandboxName, "args", args)

	events := stream.Run(r.Context(), child, r.Body, printStatus)

	w.Header().Set("X-Trace-Id", traceID)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for ev := range events {
		switch ev.Kind {
		case stream.EventError:
			log.Error("execution stream failed", "error", ev.Err)
			return
		default:
			if _, werr := w.Write(ev.Data); werr != nil {
				// Client gone. stream.Run observes r.Context() being
				// cancelled and kills the child; nothing more to do here.
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
