// Package handler exposes the document store over HTTP so a remote sync
// server can commit ops, read snapshots and op ranges, run queries and
// follow the commit feed.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/stevemurr/memdoc/feed"
	"github.com/stevemurr/memdoc/mquery"
	"github.com/stevemurr/memdoc/schema"
	"github.com/stevemurr/memdoc/store"
)

// Handler holds the server dependencies and registers routes.
type Handler struct {
	store    *store.Store
	schemas  *schema.Registry
	hub      *feed.Hub
	log      *slog.Logger
	router   *mux.Router
	upgrader websocket.Upgrader
}

// New creates a Handler and wires up all routes. schemas and hub may be
// nil, which disables the schema and feed endpoints.
func New(s *store.Store, schemas *schema.Registry, hub *feed.Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		store:   s,
		schemas: schemas,
		hub:     hub,
		log:     logger,
		router:  mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	h.routes()
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	r := h.router

	// Health / status
	r.Methods(http.MethodGet).Path("/").HandlerFunc(h.root)
	r.Methods(http.MethodGet).Path("/health").HandlerFunc(h.health)

	// Documents
	r.Methods(http.MethodGet).Path("/collections").HandlerFunc(h.listCollections)
	r.Methods(http.MethodGet).Path("/collections/{collection}/docs/{id}").HandlerFunc(h.getSnapshot)
	r.Methods(http.MethodPost).Path("/collections/{collection}/docs/{id}/commit").HandlerFunc(h.commit)
	r.Methods(http.MethodGet).Path("/collections/{collection}/docs/{id}/ops").HandlerFunc(h.getOps)
	r.Methods(http.MethodPost).Path("/collections/{collection}/query").HandlerFunc(h.query)
	if h.hub != nil {
		r.Methods(http.MethodGet).Path("/collections/{collection}/feed").HandlerFunc(h.feed)
	}

	// Schemas
	if h.schemas != nil {
		r.Methods(http.MethodGet).Path("/schemas").HandlerFunc(h.listSchemas)
		r.Methods(http.MethodGet).Path("/schemas/{type}").HandlerFunc(h.getSchema)
		r.Methods(http.MethodPut).Path("/schemas/{type}").HandlerFunc(h.putSchema)
		r.Methods(http.MethodDelete).Path("/schemas/{type}").HandlerFunc(h.deleteSchema)
	}
}

// Logging logs one line per request with its status and duration.
func Logging(next http.Handler, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		logger.Info("handled", "method", r.Method, "url", r.URL.String(), "duration", m.Duration, "status", m.Code)
	})
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func intParam(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return &n, nil
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "memdoc",
		"closed":  h.store.Closed(),
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ---------- documents ----------

func (h *Handler) listCollections(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.Collections()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snap, err := h.store.GetSnapshot(vars["collection"], vars["id"], r.URL.Query()["field"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type commitRequest struct {
	Op       store.Op       `json:"op"`
	Snapshot store.Snapshot `json:"snapshot"`
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req commitRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	ok, err := h.store.Commit(vars["collection"], vars["id"], req.Op, req.Snapshot)
	var verr *schema.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, "schema validation failed: "+verr.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	case !ok:
		writeJSON(w, http.StatusConflict, map[string]any{"committed": false, "v": req.Snapshot.V})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"committed": true, "v": req.Snapshot.V})
}

func (h *Handler) getOps(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	from, err := intParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := intParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start := 0
	if from != nil {
		start = *from
	}
	ops, err := h.store.GetOps(vars["collection"], vars["id"], start, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

type queryRequest struct {
	Query   map[string]any `json:"query"`
	Fields  []string       `json:"fields"`
	Options map[string]any `json:"options"`
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Query == nil {
		req.Query = map[string]any{}
	}
	snaps, extra, err := h.store.Query(mux.Vars(r)["collection"], req.Query, req.Fields, req.Options)
	var operr *mquery.OperatorError
	switch {
	case errors.As(err, &operr):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps, "extra": extra})
}

// feed streams accepted commits for a collection as JSON text messages.
func (h *Handler) feed(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	// Subscribe before the handshake completes so no commit after it is missed.
	events, cancel := h.hub.Subscribe(collection)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		h.log.Warn("feed upgrade failed", "collection", collection, "err", err)
		return
	}
	defer conn.Close()
	defer cancel()

	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			h.log.Debug("feed write failed", "collection", collection, "err", err)
			return
		}
	}
}

// ---------- schema endpoints ----------

func (h *Handler) listSchemas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.schemas.List())
}

func (h *Handler) getSchema(w http.ResponseWriter, r *http.Request) {
	docType := mux.Vars(r)["type"]
	s := h.schemas.Get(docType)
	if s == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no schema for type %q", docType))
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) putSchema(w http.ResponseWriter, r *http.Request) {
	docType := mux.Vars(r)["type"]
	var s map[string]any
	if err := readJSON(r, &s); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	h.schemas.Put(docType, s)
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) deleteSchema(w http.ResponseWriter, r *http.Request) {
	docType := mux.Vars(r)["type"]
	if !h.schemas.Delete(docType) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no schema for type %q", docType))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "type": docType})
}
