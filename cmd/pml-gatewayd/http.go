package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"net/url"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/pml-run/gateway/internal/router"
)

// handleHTTPServer mounts the Meta-Tool Router's five operations as JSON
// endpoints and drives the *http.Server by listening in a goroutine,
// waiting for ctx to be done, and then shutting down with a fresh timeout.
// clue/debug's pprof mounting expects a goa muxer, which this transport
// deliberately doesn't use (spec.md's wire envelope is plain JSON, not a
// goa-generated design); net/http/pprof is the stdlib equivalent for the
// same debug flag.
func handleHTTPServer(ctx context.Context, u *url.URL, gw *Gateway, wg *sync.WaitGroup, errc chan error, dbg bool) {
	mux := http.NewServeMux()
	if dbg {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	mux.HandleFunc("POST /v1/discover", discoverHandler(gw))
	mux.HandleFunc("POST /v1/execute", executeHandler(gw))
	mux.HandleFunc("POST /v1/abort", abortHandler(gw))
	mux.HandleFunc("POST /v1/continue", continueHandler(gw))
	mux.HandleFunc("POST /v1/replan", replanHandler(gw))
	mux.Handle("GET /healthz", gw.Healthz)

	var handler http.Handler = mux
	handler = log.HTTP(ctx)(handler)

	srv := &http.Server{Addr: u.Host, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf(ctx, "HTTP server listening on %q", u.Host)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down HTTP server at %q", u.Host)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf(ctx, "failed to shutdown: %v", err)
		}
	}()
}

func discoverHandler(gw *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req router.DiscoverRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		resp, err := gw.Router.Discover(r.Context(), req)
		writeResult(w, r.Context(), resp, err)
	}
}

func executeHandler(gw *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req router.ExecuteRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		resp, err := gw.Router.Execute(r.Context(), req)
		writeResult(w, r.Context(), resp, err)
	}
}

func abortHandler(gw *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			WorkflowID string `json:"workflow_id"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		resp, err := gw.Router.Abort(r.Context(), req.WorkflowID)
		writeResult(w, r.Context(), resp, err)
	}
}

func continueHandler(gw *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req router.ContinueRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		resp, err := gw.Router.Continue(r.Context(), req)
		writeResult(w, r.Context(), resp, err)
	}
}

func replanHandler(gw *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req router.ReplanRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		resp, err := gw.Router.Replan(r.Context(), req)
		writeResult(w, r.Context(), resp, err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, `{"error":"malformed request body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func writeResult(w http.ResponseWriter, ctx context.Context, resp any, err error) {
	if err != nil {
		log.Printf(ctx, "ERROR: %s", err.Error())
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		log.Printf(ctx, "ERROR: encode response: %s", encErr.Error())
	}
}
