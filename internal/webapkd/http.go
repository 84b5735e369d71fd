package webapkd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/autopeer-io/webapkd/internal/pkg/metrics"
	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/internal/webapk/metadata"
	"github.com/autopeer-io/webapkd/internal/webapk/model"
	"github.com/autopeer-io/webapkd/internal/webapk/registry"
	"github.com/autopeer-io/webapkd/pkg/log"
)

type registerRequest struct {
	PackageName string              `json:"packageName"`
	Installed   *model.InstalledApp `json:"installed,omitempty"`
}

type launchRequest struct {
	Surface string `json:"surface"`
}

type launchResponse struct {
	Checking bool `json:"checking"`
}

type navigationRequest struct {
	URL          string `json:"url"`
	MainFrame    bool   `json:"mainFrame"`
	ErrorPage    bool   `json:"errorPage"`
	SameDocument bool   `json:"sameDocument"`
	Committed    bool   `json:"committed"`
}

type manifestRequest struct {
	ManifestURL      string                  `json:"manifestUrl"`
	Snapshot         *model.ManifestSnapshot `json:"snapshot"`
	PrimaryIconURL   string                  `json:"primaryIconUrl"`
	SecondaryIconURL string                  `json:"secondaryIconUrl,omitempty"`
	PrimaryIcon      []byte                  `json:"primaryIcon,omitempty"`
	SecondaryIcon    []byte                  `json:"secondaryIcon,omitempty"`
}

type manifestResponse struct {
	Delivered int `json:"delivered"`
}

type foregroundRequest struct {
	Foreground bool `json:"foreground"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHandler returns the admin and shell API. ready reports readiness for
// /readyz; nil means always ready.
func NewHandler(apps *Apps, ready func() bool) http.Handler {
	h := &handler{apps: apps, ready: ready, log: log.WithName("http")}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1/apps").Subrouter()
	api.HandleFunc("", h.list).Methods(http.MethodGet)
	api.HandleFunc("/{id}", h.get).Methods(http.MethodGet)
	api.HandleFunc("/{id}", h.register).Methods(http.MethodPost)
	api.HandleFunc("/{id}", h.forget).Methods(http.MethodDelete)
	api.HandleFunc("/{id}/force", h.force).Methods(http.MethodPost)
	api.HandleFunc("/{id}/launch", h.launch).Methods(http.MethodPost)
	api.HandleFunc("/{id}/navigation", h.navigation).Methods(http.MethodPost)
	api.HandleFunc("/{id}/surface", h.surface).Methods(http.MethodPost)
	api.HandleFunc("/{id}/manifest", h.manifest).Methods(http.MethodPost)
	api.HandleFunc("/{id}/foreground", h.foreground).Methods(http.MethodPut)
	api.HandleFunc("/{id}/close", h.close).Methods(http.MethodPost)
	return r
}

type handler struct {
	apps  *Apps
	ready func() bool
	log   log.Logger
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *handler) readyz(w http.ResponseWriter, _ *http.Request) {
	if h.ready != nil && !h.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	apps, err := h.apps.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	st, err := h.apps.Status(r.Context(), appID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PackageName == "" && req.Installed != nil {
		req.PackageName = req.Installed.PackageName
	}
	if req.PackageName == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "packageName is required"})
		return
	}
	if req.Installed != nil && req.Installed.Snapshot.IconURLToHash == nil {
		req.Installed.Snapshot.IconURLToHash = map[string]string{}
	}

	rec, err := h.apps.Register(r.Context(), appID(r), req.PackageName, req.Installed)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handler) forget(w http.ResponseWriter, r *http.Request) {
	if err := h.apps.Forget(r.Context(), appID(r)); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) force(w http.ResponseWriter, r *http.Request) {
	if err := h.apps.Force(r.Context(), appID(r)); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) launch(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if !decode(w, r, &req) {
		return
	}
	checking, err := h.apps.Launch(r.Context(), appID(r), req.Surface)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, launchResponse{Checking: checking})
}

func (h *handler) navigation(w http.ResponseWriter, r *http.Request) {
	var req navigationRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.apps.Navigate(appID(r), core.NavigationEvent{
		URL:            req.URL,
		IsMainFrame:    req.MainFrame,
		IsErrorPage:    req.ErrorPage,
		IsSameDocument: req.SameDocument,
		Committed:      req.Committed,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) surface(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.apps.ReplaceSurface(appID(r), req.Surface); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) manifest(w http.ResponseWriter, r *http.Request) {
	// Colors the page left out stay unset.
	req := manifestRequest{Snapshot: model.NewManifestSnapshot()}
	if !decode(w, r, &req) {
		return
	}
	if req.ManifestURL == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "manifestUrl is required"})
		return
	}
	if req.Snapshot != nil && req.Snapshot.IconURLToHash == nil {
		req.Snapshot.IconURLToHash = map[string]string{}
	}

	n, err := h.apps.Manifest(appID(r), &core.HostManifest{
		ManifestURL: req.ManifestURL,
		Result: model.FetchResult{
			Snapshot:         req.Snapshot,
			PrimaryIconURL:   req.PrimaryIconURL,
			SecondaryIconURL: req.SecondaryIconURL,
			PrimaryIcon:      req.PrimaryIcon,
			SecondaryIcon:    req.SecondaryIcon,
		},
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, manifestResponse{Delivered: n})
}

func (h *handler) foreground(w http.ResponseWriter, r *http.Request) {
	var req foregroundRequest
	if !decode(w, r, &req) {
		return
	}
	h.apps.SetForeground(appID(r), req.Foreground)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) close(w http.ResponseWriter, r *http.Request) {
	if err := h.apps.Close(r.Context(), appID(r)); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrNotRegistered), errors.Is(err, metadata.ErrNotInstalled):
		status = http.StatusNotFound
	case errors.Is(err, ErrNotRunning):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	default:
		h.log.Error(err, "Request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func appID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<20)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// serveHTTP runs srv until ctx is done.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	log.Info("Starting HTTP server", "addr", srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
