package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fluxbridge/fluxbridge/internal/auth"
	"github.com/fluxbridge/fluxbridge/internal/codec"
	"github.com/fluxbridge/fluxbridge/internal/gate"
)

// GateHandler serves the gate actions and dataset verbs over JSON HTTP.
type GateHandler struct {
	gate          *gate.Gate
	authenticator *auth.Authenticator
}

// NewGateHandler creates the HTTP gate handler.
func NewGateHandler(g *gate.Gate, authenticator *auth.Authenticator) *GateHandler {
	return &GateHandler{gate: g, authenticator: authenticator}
}

// Mux builds the route table with the default middleware chain applied.
func (h *GateHandler) Mux() *http.ServeMux {
	wrap := DefaultMiddleware()
	requireAuth := AuthMiddleware(h.authenticator)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/actions/{action}", wrap(http.HandlerFunc(h.handleAction)))
	mux.Handle("GET /v1/flights", wrap(http.HandlerFunc(h.handleListFlights)))
	mux.Handle("GET /v1/flights/info", wrap(http.HandlerFunc(h.handleFlightInfo)))
	mux.Handle("GET /v1/tables/{schema}/{table}", wrap(http.HandlerFunc(h.handleGetTable)))
	mux.Handle("PUT /v1/tables", wrap(requireAuth(http.HandlerFunc(h.handlePutTable))))
	mux.Handle("GET /v1/healthz", wrap(http.HandlerFunc(h.handleHealth)))
	return mux
}

// handleAction dispatches one JSON-bodied action. The auth requirement
// depends on the action, so it is enforced here rather than by a static
// middleware wrap.
func (h *GateHandler) handleAction(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	action := r.PathValue("action")

	required, known := gate.RequiresAuth(action)
	if !known {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action), requestID)
		return
	}
	ctx := r.Context()
	if required {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, "authentication required", requestID)
			return
		}
		identity, err := h.authenticator.Authenticate(ctx, header)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required", requestID)
			return
		}
		if identity.Token != "" {
			w.Header().Set(IssuedTokenHeader, identity.Token)
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read body: %v", err), requestID)
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	result, err := h.gate.Do(ctx, action, body)
	if err != nil {
		writeDomainError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result, "request_id": requestID})
}

func (h *GateHandler) handleListFlights(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	infos, err := h.gate.ListFlights(r.Context())
	if err != nil {
		writeDomainError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flights": infos, "request_id": requestID})
}

// handleFlightInfo resolves a descriptor from query parameters: either
// ?command=... or repeated ?path=... elements.
func (h *GateHandler) handleFlightInfo(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	q := r.URL.Query()
	desc := gate.Descriptor{Command: q.Get("command"), Path: q["path"]}
	info, err := h.gate.GetFlightInfo(r.Context(), desc)
	if err != nil {
		writeDomainError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"info": info, "request_id": requestID})
}

// TableResponse carries a table as its encoded payload.
type TableResponse struct {
	Key        string `json:"key"`
	PayloadB64 string `json:"payload_b64"`
	RequestID  string `json:"request_id"`
}

func (h *GateHandler) handleGetTable(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	desc := gate.PathDescriptor(r.PathValue("schema"), r.PathValue("table"))

	t, err := h.gate.DoGet(r.Context(), desc)
	if err != nil {
		writeDomainError(w, err, requestID)
		return
	}
	payload, err := codec.Encode(t)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to encode table: %v", err), requestID)
		return
	}
	writeJSON(w, http.StatusOK, TableResponse{
		Key:        desc.Key(),
		PayloadB64: base64.StdEncoding.EncodeToString(payload),
		RequestID:  requestID,
	})
}

// PutTableRequest is the upload body: a descriptor plus the encoded table.
type PutTableRequest struct {
	Descriptor gate.Descriptor `json:"descriptor"`
	PayloadB64 string          `json:"payload_b64"`
}

func (h *GateHandler) handlePutTable(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req PutTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.PayloadB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload encoding: %v", err), requestID)
		return
	}
	t, err := codec.Decode(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid table payload: %v", err), requestID)
		return
	}

	if err := h.gate.DoPut(r.Context(), req.Descriptor, t); err != nil {
		writeDomainError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": req.Descriptor.Key(), "request_id": requestID})
}

func (h *GateHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
