package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/me/stepsched/pkg/model"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	respond(w, r, runs, model.NewPagination(opts, total))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.lookupRun(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, run, nil)
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	run, err := s.lookupRun(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	steps, err := s.store.ListSteps(r.Context(), run.ID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if steps == nil {
		steps = []*model.StepRecord{}
	}
	respond(w, r, steps, nil)
}

// lookupRun loads the {id} run, turning a missing row into NOT_FOUND.
func (s *Server) lookupRun(r *http.Request) (*model.Run, error) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	if run == nil {
		return nil, model.NewNotFoundError("run", id)
	}
	return run, nil
}

// listOptions reads limit, offset and state from the query string.
func listOptions(r *http.Request) (model.ListOptions, error) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()

	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, &model.APIError{Code: model.ErrValidation, Message: p.name + " must be an integer"}
		}
		*p.dst = n
	}

	opts.State = model.RunState(q.Get("state"))
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	opts.Clamp()
	return opts, nil
}
