// Package httpapi exposes the pipeline operations as small JSON
// endpoints on the admin mux. This is an integration surface for the
// surrounding application, not a presentation layer.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/meridianlabs/pinpoint/internal/models"
	"github.com/meridianlabs/pinpoint/internal/server"
)

// maxBodyBytes bounds a request body: four images plus hints.
const maxBodyBytes = 64 << 20

// AnalyzeHandler serves /v1/analyze and /v1/refine.
type AnalyzeHandler struct {
	service *server.Service
	logger  *zap.Logger
}

// NewAnalyzeHandler builds the handler around the pipeline service.
func NewAnalyzeHandler(service *server.Service, logger *zap.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{service: service, logger: logger}
}

// RegisterRoutes attaches the endpoints to mux.
func (h *AnalyzeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/analyze", h.handleAnalyze)
	mux.HandleFunc("/v1/refine", h.handleRefine)
}

type imagePayloadJSON struct {
	Data      string `json:"data"` // base64
	MediaType string `json:"mediaType"`
}

type analyzeRequestJSON struct {
	Images []imagePayloadJSON   `json:"images"`
	Hints  models.LocationHints `json:"hints"`
}

type refineRequestJSON struct {
	Images         []imagePayloadJSON    `json:"images"`
	PreviousResult models.AnalysisResult `json:"previousResult"`
	Feedback       string                `json:"feedback"`
	Hints          models.LocationHints  `json:"hints"`
}

type errorJSON struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (h *AnalyzeHandler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body analyzeRequestJSON
	if !decodeBody(w, r, &body) {
		return
	}
	images, ok := decodeImages(w, body.Images)
	if !ok {
		return
	}
	result, err := h.service.Analyze(r.Context(), server.AnalyzeRequest{Images: images, Hints: body.Hints})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AnalyzeHandler) handleRefine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body refineRequestJSON
	if !decodeBody(w, r, &body) {
		return
	}
	images, ok := decodeImages(w, body.Images)
	if !ok {
		return
	}
	result, err := h.service.Refine(r.Context(), server.RefineRequest{
		Images:   images,
		Previous: body.PreviousResult,
		Feedback: body.Feedback,
		Hints:    body.Hints,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "invalid JSON body", Kind: string(server.KindBadRequest)})
		return false
	}
	return true
}

func decodeImages(w http.ResponseWriter, raw []imagePayloadJSON) ([]models.ImagePayload, bool) {
	images := make([]models.ImagePayload, 0, len(raw))
	for _, img := range raw {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorJSON{Error: "image data is not valid base64", Kind: string(server.KindBadRequest)})
			return nil, false
		}
		images = append(images, models.ImagePayload{Data: data, MediaType: img.MediaType})
	}
	return images, true
}

func (h *AnalyzeHandler) writeError(w http.ResponseWriter, err error) {
	var perr *server.PipelineError
	if !errors.As(err, &perr) {
		h.logger.Error("Unclassified handler error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorJSON{Error: "internal error", Kind: string(server.KindInternal)})
		return
	}
	status := http.StatusInternalServerError
	switch perr.Kind {
	case server.KindBadRequest:
		status = http.StatusBadRequest
	case server.KindAllExpertsFailed, server.KindVerification, server.KindUnavailable:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorJSON{Error: perr.Error(), Kind: string(perr.Kind)})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
