package http

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/model"
	"github.com/windfall/pronunciation_service/internal/service"
	"github.com/windfall/pronunciation_service/pkg/response"
)

// APIHandler serves the evaluation and TTS proxy endpoints.
type APIHandler struct {
	log          zerolog.Logger
	evaluation   *service.EvaluationService
	tts          *service.TTSService
	maxBodyBytes int64
}

// NewAPIHandler creates a new API handler. maxAudioBytes bounds the decoded
// recording; the request body limit is derived from it.
func NewAPIHandler(
	log zerolog.Logger,
	evaluation *service.EvaluationService,
	tts *service.TTSService,
	maxAudioBytes int64,
) *APIHandler {
	return &APIHandler{
		log:          log,
		evaluation:   evaluation,
		tts:          tts,
		maxBodyBytes: maxAudioBytes/3*4 + 64<<10,
	}
}

// Evaluate handles POST /api/evaluation
func (h *APIHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req model.EvaluationRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.evaluation.Evaluate(r.Context(), req)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.OK(w, result)
}

// TTSRequest is the body of POST /api/tts.
type TTSRequest struct {
	Text string `json:"text"`
}

// TTSResponse carries synthesized audio back to the client.
type TTSResponse struct {
	AudioBase64 string `json:"audioBase64"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// Synthesize handles POST /api/tts
func (h *APIHandler) Synthesize(w http.ResponseWriter, r *http.Request) {
	var req TTSRequest
	if !h.decode(w, r, &req) {
		return
	}

	audio, err := h.tts.Synthesize(r.Context(), req.Text)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.OK(w, &TTSResponse{
		AudioBase64: audio.Base64(),
		MIMEType:    audio.MIMEType,
	})
}

func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			h.handleError(w, errors.Validation("Audio payload is too large."))
			return false
		}
		h.handleError(w, errors.Validation("Invalid request body."))
		return false
	}
	return true
}

func (h *APIHandler) handleError(w http.ResponseWriter, err error) {
	if _, ok := errors.As(err); !ok {
		h.log.Error().Err(err).Msg("Internal server error")
	}
	response.Error(w, err)
}
