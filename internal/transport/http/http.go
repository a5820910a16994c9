// Package http implements the HTTP transport for voicedesk.
//
// It exposes the interaction endpoint used by telephony webhooks, web
// clients and tests, read-only tenant endpoints, and the Swagger UI.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/nadzzz/voicedesk/docs" // registers the OpenAPI description
	"github.com/nadzzz/voicedesk/internal/interaction"
	"github.com/nadzzz/voicedesk/internal/tenant"
	"github.com/nadzzz/voicedesk/internal/transport"
)

const defaultMaxBody = 25 << 20 // 25 MB

// Headers carrying call metadata for raw audio uploads.
const (
	HeaderDID     = "X-Voicedesk-DID"
	HeaderSession = "X-Voicedesk-Session"
)

// Directory is the read-only tenant table served by the tenant endpoints.
type Directory interface {
	Profiles() []tenant.Profile
	Lookup(key string) (tenant.Profile, bool)
	Resolve(did string) tenant.Profile
}

// Transport implements transport.Transport over HTTP.
type Transport struct {
	port    int
	tenants Directory
	maxBody int64
	server  *http.Server
}

var _ transport.Transport = (*Transport)(nil)

// New creates a new HTTP transport on the given port.
func New(port int, tenants Directory) *Transport {
	return &Transport{port: port, tenants: tenants, maxBody: defaultMaxBody}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Routes builds the HTTP handler. It is exported for tests and for
// embedding the API in another server.
func (t *Transport) Routes(handler transport.Handler) http.Handler {
	mux := http.NewServeMux()

	// POST /v1/interactions accepts any of the three event shapes, or raw audio.
	mux.HandleFunc("POST /v1/interactions", func(w http.ResponseWriter, r *http.Request) {
		t.handleInteraction(w, r, handler)
	})

	mux.HandleFunc("GET /v1/tenants", t.handleListTenants)
	mux.HandleFunc("GET /v1/tenants/resolve", t.handleResolveTenant)
	mux.HandleFunc("GET /v1/tenants/{did}", t.handleGetTenant)

	// Swagger UI serves the registered OpenAPI docs.
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return logRequests(mux)
}

// Listen starts the HTTP server and routes incoming requests to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.port),
		Handler:           t.Routes(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(shutdownCtx)
	}()

	if err := t.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// handleInteraction processes a POST /v1/interactions request.
//
// @Summary     Handle one caller interaction
// @Description Accepts a contact-center event, a direct audio payload ({audio_data, did, session_id, audio_format})
// @Description or a text payload ({text|inputText, did, session_id}). Raw audio can also be POSTed with an
// @Description audio/* Content-Type. The reply is transcribed, answered by the clinic agent, and synthesized.
// @Tags        interactions
// @Accept      json
// @Accept      audio/wav
// @Accept      audio/mpeg
// @Produce     json
// @Param       payload            body    object  true   "Interaction event (JSON). For raw audio, POST the bytes directly."
// @Param       X-Voicedesk-DID      header  string  false  "Dialed number (raw audio uploads)"
// @Param       X-Voicedesk-Session  header  string  false  "Session id (raw audio uploads)"
// @Success     200  {object}  interaction.Envelope  "Handled, possibly with fallbacks"
// @Failure     400  {string}  string  "Unreadable body"
// @Failure     413  {string}  string  "Body larger than 25 MB"
// @Failure     500  {object}  interaction.Envelope  "Malformed payload or internal error"
// @Router      /v1/interactions [post]
func (t *Transport) handleInteraction(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, t.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "reading body: "+err.Error(), http.StatusBadRequest)
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "audio/") {
		// Raw audio: wrap it in the direct-audio shape.
		ev := interaction.NewAudioEvent(body, r.Header.Get(HeaderDID), r.Header.Get(HeaderSession), audioFormat(mediaType))
		if body, err = json.Marshal(ev); err != nil {
			http.Error(w, "encoding audio event: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	resp := handler(r.Context(), body)
	writeJSON(w, resp.StatusCode, resp.Body())
}

type tenantList struct {
	Tenants []tenant.Profile `json:"tenants"`
	Count   int              `json:"count"`
}

// handleListTenants returns the tenant table.
//
// @Summary  List tenants
// @Tags     tenants
// @Produce  json
// @Success  200  {object}  tenantList
// @Router   /v1/tenants [get]
func (t *Transport) handleListTenants(w http.ResponseWriter, r *http.Request) {
	profiles := t.tenants.Profiles()
	writeJSON(w, http.StatusOK, tenantList{Tenants: profiles, Count: len(profiles)})
}

// handleGetTenant returns the tenant with exactly this DID.
//
// @Summary  Get a tenant by DID
// @Tags     tenants
// @Produce  json
// @Param    did  path  string  true  "Tenant DID"
// @Success  200  {object}  tenant.Profile
// @Failure  404  {object}  map[string]string
// @Router   /v1/tenants/{did} [get]
func (t *Transport) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	did := r.PathValue("did")
	p, ok := t.tenants.Lookup(did)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no tenant with did %q", did)})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleResolveTenant resolves a dialed number the way interactions do.
//
// @Summary  Resolve a dialed number to a tenant
// @Tags     tenants
// @Produce  json
// @Param    did  query  string  true  "Dialed number, any formatting"
// @Success  200  {object}  tenant.Profile
// @Failure  400  {object}  map[string]string
// @Router   /v1/tenants/resolve [get]
func (t *Transport) handleResolveTenant(w http.ResponseWriter, r *http.Request) {
	did := r.URL.Query().Get("did")
	if did == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "did parameter is required"})
		return
	}
	writeJSON(w, http.StatusOK, t.tenants.Resolve(did))
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}

// audioFormat maps an audio MIME type to the container name used downstream.
func audioFormat(mediaType string) string {
	switch mediaType {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/ogg":
		return "ogg"
	case "audio/flac":
		return "flac"
	case "audio/webm":
		return "webm"
	case "audio/mp4", "audio/m4a":
		return "mp4"
	default:
		return "wav"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
