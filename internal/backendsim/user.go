package backendsim

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// UserService simulates the secondary service used by plain users. It answers
// under the legacy "answer" field, as the real one does.
type UserService struct {
	log *zap.Logger
}

func NewUserService(log *zap.Logger) *UserService {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserService{log: log}
}

func (u *UserService) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(u.log))
	r.Use(allowBrowsers())
	r.Post("/userquery", u.handleQuery)
	return r
}

func (u *UserService) handleQuery(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Query) == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"answer": answer("user", payload.Query)})
}
