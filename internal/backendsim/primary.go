// Package backendsim is an in-memory stand-in for the two chat backends. It
// follows the same wire contracts and is used for local runs and tests.
package backendsim

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Turn is one stored exchange, as served by the history endpoint.
type Turn struct {
	CreatedAt string `json:"created_at"`
	Message   string `json:"message,omitempty"`
	Response  string `json:"response,omitempty"`
	Audio     string `json:"audio,omitempty"`
}

// Primary simulates the role-aware assistant service.
type Primary struct {
	mu      sync.RWMutex
	history map[string][]Turn
	clips   map[string][]byte
	now     func() time.Time
	log     *zap.Logger
}

func NewPrimary(log *zap.Logger) *Primary {
	if log == nil {
		log = zap.NewNop()
	}
	return &Primary{
		history: make(map[string][]Turn),
		clips:   make(map[string][]byte),
		now:     func() time.Time { return time.Now().UTC() },
		log:     log,
	}
}

// Seed appends turns to a user's history.
func (p *Primary) Seed(userCode string, turns ...Turn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history[userCode] = append(p.history[userCode], turns...)
}

// Turns returns a copy of the stored history for userCode.
func (p *Primary) Turns(userCode string) []Turn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Turn, len(p.history[userCode]))
	copy(out, p.history[userCode])
	return out
}

func (p *Primary) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(p.log))
	r.Use(allowBrowsers())

	r.Get("/analyze/history/{userCode}", p.handleHistory)
	r.Post("/analyze", p.handleAnalyze)
	r.Post("/voice", p.handleVoice)
	r.Post("/tts", p.handleTTS)
	r.Get("/clips/{clipID}", p.handleClip)
	return r
}

func (p *Primary) handleHistory(w http.ResponseWriter, r *http.Request) {
	userCode := chi.URLParam(r, "userCode")
	if r.URL.RawPath != "" {
		// chi matched against the escaped path.
		if unescaped, err := url.PathUnescape(userCode); err == nil {
			userCode = unescaped
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": p.Turns(userCode)})
}

func (p *Primary) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Query    string `json:"query"`
		UserCode string `json:"usercode"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Query) == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if payload.UserCode == "" || payload.Role == "" {
		respondError(w, http.StatusBadRequest, "usercode and role are required")
		return
	}

	reply := answer(payload.Role, payload.Query)
	p.Seed(payload.UserCode, Turn{
		CreatedAt: p.now().Format(time.RFC3339Nano),
		Message:   payload.Query,
		Response:  reply,
	})
	respondJSON(w, http.StatusOK, map[string]string{"response": reply})
}

func (p *Primary) handleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read audio")
		return
	}
	userCode := r.FormValue("usercode")
	role := r.FormValue("role")
	if userCode == "" || role == "" {
		respondError(w, http.StatusBadRequest, "usercode and role are required")
		return
	}

	clipID := uuid.NewString()
	p.mu.Lock()
	p.clips[clipID] = audio
	p.mu.Unlock()

	transcript := fmt.Sprintf("voice note %s (%d bytes)", header.Filename, len(audio))
	reply := answer(role, transcript)
	p.Seed(userCode, Turn{
		CreatedAt: p.now().Format(time.RFC3339Nano),
		Message:   transcript,
		Response:  reply,
		Audio:     "/clips/" + clipID,
	})
	respondJSON(w, http.StatusOK, map[string]string{
		"voice_text": transcript,
		"response":   reply,
	})
}

func (p *Primary) handleTTS(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}
	wav := ToneWAV(len(payload.Text))
	respondJSON(w, http.StatusOK, map[string]string{
		"audio": "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(wav),
	})
}

func (p *Primary) handleClip(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	clip, ok := p.clips[chi.URLParam(r, "clipID")]
	p.mu.RUnlock()
	if !ok {
		respondError(w, http.StatusNotFound, "clip not found")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(clip)
}

func answer(role, query string) string {
	return fmt.Sprintf("[%s] received: %s", role, strings.TrimSpace(query))
}
