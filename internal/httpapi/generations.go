package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/imagecredits/internal/service"
)

type insufficientCreditsResponse struct {
	Error     string `json:"error"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := currentUser(r)

	if s.deps.Limiter != nil {
		allowed, err := s.deps.Limiter.Allow(ctx, userID)
		if err != nil {
			// Fail open while the limiter backend is down.
			s.log.Warn("rate limiter unavailable", "user_id", userID, "err", err)
		} else if !allowed {
			s.writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
	}

	var in service.SubmitInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	res, err := s.deps.Generations.CreateAndDispatch(ctx, userID, in)
	if err != nil {
		var insufficient *service.InsufficientCreditsError
		switch {
		case errors.As(err, &insufficient):
			s.writeJSON(w, http.StatusBadRequest, insufficientCreditsResponse{
				Error:     service.ErrInsufficientCredits.Error(),
				Required:  insufficient.Required,
				Available: insufficient.Available,
			})
		case errors.Is(err, service.ErrInvalidInput):
			s.badRequest(w, err)
		case errors.Is(err, service.ErrDispatchFailed):
			s.writeError(w, http.StatusBadGateway, service.ErrDispatchFailed.Error())
		case errors.Is(err, service.ErrProviderUnavailable):
			s.writeError(w, http.StatusServiceUnavailable, service.ErrProviderUnavailable.Error())
		default:
			s.internalError(w, r, err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Generations.PollStatus(r.Context(), chi.URLParam(r, "taskID"), currentUser(r))
	if err != nil {
		s.taskError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Generations.SharedTask(r.Context(), chi.URLParam(r, "shareID"))
	if err != nil {
		s.taskError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	views, err := s.deps.Generations.ListTasks(r.Context(), currentUser(r), limit, offset)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if views == nil {
		views = []service.TaskView{}
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleDeleteGeneration(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Generations.DeleteTask(r.Context(), chi.URLParam(r, "taskID"), currentUser(r)); err != nil {
		s.taskError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// taskError answers 404 for missing and foreign tasks alike.
func (s *Server) taskError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrTaskNotFound) {
		s.writeError(w, http.StatusNotFound, service.ErrTaskNotFound.Error())
		return
	}
	s.internalError(w, r, err)
}
