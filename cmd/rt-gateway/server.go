package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/rt-gateway/pkg/catalog"
	"github.com/Sternrassler/rt-gateway/pkg/client"
	"github.com/Sternrassler/rt-gateway/pkg/metrics"
	"github.com/Sternrassler/rt-gateway/pkg/refdata"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 10 << 20

// prober checks that RT is reachable. *client.Session implements it.
type prober interface {
	Probe(ctx context.Context) error
}

type server struct {
	catalog *catalog.Registry
	loader  *refdata.Loader
	rt      prober
	redis   *redis.Client
	logger  zerolog.Logger
}

func newServer(reg *catalog.Registry, loader *refdata.Loader, rt prober, rc *redis.Client) *server {
	return &server{
		catalog: reg,
		loader:  loader,
		rt:      rt,
		redis:   rc,
		logger:  log.With().Str("component", "http").Logger(),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.readyHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /operations", s.listOperations)
	mux.HandleFunc("GET /operations/{name}", s.describeOperation)
	mux.HandleFunc("POST /operations/{name}", s.invokeOperation)
	mux.HandleFunc("GET /resources", s.readResource)
	mux.HandleFunc("POST /resources/invalidate", s.invalidateResources)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports 503 while RT (or a configured Redis) is unreachable.
func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			http.Error(w, "Redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	if err := s.rt.Probe(ctx); err != nil {
		http.Error(w, "RT unavailable: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) listOperations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.List(r.URL.Query()["tag"]...))
}

func (s *server) describeOperation(w http.ResponseWriter, r *http.Request) {
	d, ok := s.catalog.Describe(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_operation", "no operation named "+r.PathValue("name"))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *server) invokeOperation(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	params, err := decodeParams(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(client.KindValidation), "request body must be a JSON object: "+err.Error())
		return
	}

	progress := catalog.WithProgress(func(p catalog.Progress) {
		s.logger.Debug().
			Str("operation", name).
			Int("done", p.Done).
			Int("total", p.Total).
			Msg(p.Message)
	})

	result, err := s.catalog.Invoke(r.Context(), name, params, progress)
	if err != nil {
		s.writeFailure(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) readResource(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeJSON(w, http.StatusOK, refdata.Resources)
		return
	}

	doc, err := s.loader.Read(r.Context(), uri)
	if errors.Is(err, refdata.ErrUnknownResource) {
		writeError(w, http.StatusNotFound, "unknown_resource", err.Error())
		return
	}
	if err != nil {
		s.writeFailure(w, uri, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *server) invalidateResources(w http.ResponseWriter, r *http.Request) {
	if err := s.loader.Invalidate(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to invalidate reference data")
		writeError(w, http.StatusInternalServerError, string(client.KindGeneric), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// failureBody is the JSON shape of every error reply.
type failureBody struct {
	Kind    string `json:"kind"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}

func (s *server) writeFailure(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, catalog.ErrUnknownOperation) {
		writeError(w, http.StatusNotFound, "unknown_operation", err.Error())
		return
	}
	if client.IsCancelled(err) {
		writeError(w, http.StatusServiceUnavailable, "cancelled", err.Error())
		return
	}

	f, ok := client.AsFailure(err)
	if !ok {
		s.logger.Error().Err(err).Str("operation", name).Msg("Unclassified error")
		writeError(w, http.StatusInternalServerError, string(client.KindGeneric), err.Error())
		return
	}

	body := failureBody{Kind: string(f.Kind), Status: f.StatusCode, Message: f.Error()}
	if f.Ref != nil {
		body.Ref = f.Ref.String()
	}
	if f.Kind == client.KindRateLimited && f.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(f.RetryAfter.Seconds()+0.5)))
	}
	writeJSON(w, statusFor(f), body)
}

// statusFor maps a failure back to the status the caller sees.
func statusFor(f *client.Failure) int {
	switch f.Kind {
	case client.KindValidation:
		return http.StatusBadRequest
	case client.KindAuthentication:
		return http.StatusUnauthorized
	case client.KindAuthorization:
		return http.StatusForbidden
	case client.KindNotFound:
		return http.StatusNotFound
	case client.KindConflict:
		return http.StatusConflict
	case client.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

// decodeParams reads a JSON object. An empty body means no parameters.
// Numbers stay json.Number so ids and integers decode without float loss.
func decodeParams(r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var params map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return nil, err
	}
	return params, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, failureBody{Kind: kind, Message: message})
}
