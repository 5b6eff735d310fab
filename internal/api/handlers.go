package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dashd/internal/condition"
	"github.com/dokzlo13/dashd/internal/entities"
	"github.com/dokzlo13/dashd/internal/mediaquery"
)

const defaultHistoryLimit = 50

type stateRequest struct {
	State      string         `json:"state" validate:"required"`
	Attributes map[string]any `json:"attributes"`
}

type viewportRequest struct {
	Width       int    `json:"width" validate:"gte=0"`
	Height      int    `json:"height" validate:"gte=0"`
	ColorScheme string `json:"color_scheme" validate:"omitempty,oneof=light dark"`
	Hover       bool   `json:"hover"`
}

type userRequest struct {
	User string `json:"user"`
}

type conditionsRequest struct {
	Conditions condition.List `json:"conditions"`
	// Entity fills state conditions that name no entity, as an element's
	// entity does.
	Entity string `json:"entity"`
}

type evaluateResponse struct {
	Result         bool                `json:"result"`
	Valid          bool                `json:"valid"`
	Problems       []condition.Problem `json:"problems"`
	Entities       []string            `json:"entities"`
	MediaQueries   []string            `json:"media_queries"`
	TimeConditions int                 `json:"time_conditions"`
	NextUpdate     *float64            `json:"next_update_seconds,omitempty"`
}

type validateResponse struct {
	Valid    bool                `json:"valid"`
	Problems []condition.Problem `json:"problems"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Board.Dashboard() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no dashboard"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	elements := s.deps.Board.Status()
	visible := 0
	for _, e := range elements {
		if e.Visible {
			visible++
		}
	}

	resp := map[string]interface{}{
		"elements": len(elements),
		"visible":  visible,
		"entities": s.deps.Entities.Len(),
		"user":     s.deps.Board.User(),
		"viewport": s.deps.Board.Viewport(),
		"timezone": s.deps.Board.Location().String(),
		"pending":  s.deps.Board.Pending(),
	}
	if d := s.deps.Board.Dashboard(); d != nil {
		resp["dashboard"] = d.Title
	}
	if s.deps.Bus != nil {
		resp["events"] = s.deps.Bus.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListStates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Entities.All())
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "entityID")
	st, ok := s.deps.Entities.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	writeJSON(w, http.StatusOK, entities.Entity{ID: id, EntityState: st})
}

func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "entityID")
	var req stateRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st := condition.EntityState{State: req.State, Attributes: req.Attributes}
	changed, err := s.deps.Entities.Set(id, st)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, entities.ErrInvalidEntityID) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	if changed {
		s.settle(r, id)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entity_id": id,
		"state":     st.State,
		"changed":   changed,
	})
}

func (s *Server) handleDeleteState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "entityID")
	removed, err := s.deps.Entities.Remove(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	s.settle(r, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read event request body")
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	res, err := s.deps.Entities.IngestJSON(body, s.deps.Ingest)
	if res != nil {
		s.settle(r, append(res.Changed, res.Removed...)...)
	}
	if err != nil {
		log.Warn().Err(err).Msg("Rejected posted event")
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  err.Error(),
			"result": res,
		})
		return
	}

	log.Debug().
		Int("received", res.Received).
		Int("changed", len(res.Changed)).
		Int("removed", len(res.Removed)).
		Msg("Ingested events")
	writeJSON(w, http.StatusOK, res)
}

// settle re-evaluates elements depending on the given entities and waits for
// it, so the response reflects the new visibility.
func (s *Server) settle(r *http.Request, ids ...string) {
	if len(ids) == 0 {
		return
	}
	s.deps.Board.EntitiesChanged(ids...)
	if err := s.deps.Board.Barrier(r.Context()); err != nil {
		log.Warn().Err(err).Msg("Visibility update not confirmed")
	}
}

func (s *Server) handleGetViewport(w http.ResponseWriter, r *http.Request) {
	v := s.deps.Board.Viewport()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"width":        v.Width,
		"height":       v.Height,
		"color_scheme": v.ColorScheme,
		"hover":        v.Hover,
		"orientation":  v.Orientation(),
	})
}

func (s *Server) handlePutViewport(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	v := mediaquery.Viewport{
		Width:       req.Width,
		Height:      req.Height,
		ColorScheme: req.ColorScheme,
		Hover:       req.Hover,
	}
	changed, err := s.deps.Board.SetViewport(r.Context(), v)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"viewport":        v,
		"queries_changed": changed,
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userRequest{User: s.deps.Board.User()})
}

func (s *Server) handlePutUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Board.SetUser(r.Context(), req.User); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleListElements(w http.ResponseWriter, r *http.Request) {
	elements := s.deps.Board.Status()
	if r.URL.Query().Get("visible") == "true" {
		shown := elements[:0]
		for _, e := range elements {
			if e.Visible {
				shown = append(shown, e)
			}
		}
		elements = shown
	}
	writeJSON(w, http.StatusOK, elements)
}

func (s *Server) handleGetElement(w http.ResponseWriter, r *http.Request) {
	st, ok := s.deps.Board.Element(chi.URLParam(r, "elementID"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown element")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleElementHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		writeError(w, http.StatusNotFound, "visibility history is disabled")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.deps.Ledger.History(chi.URLParam(r, "elementID"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) decodeConditions(w http.ResponseWriter, r *http.Request) (condition.List, bool) {
	var req conditionsRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if req.Entity == "" {
		return req.Conditions, true
	}
	if !condition.IsValidEntityID(req.Entity) {
		writeError(w, http.StatusBadRequest, "invalid entity id "+strconv.Quote(req.Entity))
		return nil, false
	}
	return condition.AddEntityToConditions(req.Conditions, req.Entity), true
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	conds, ok := s.decodeConditions(w, r)
	if !ok {
		return
	}

	problems := condition.Lint(conds)
	resp := evaluateResponse{
		Result:         s.deps.Board.Evaluate(conds),
		Valid:          len(problems) == 0,
		Problems:       problems,
		Entities:       condition.ExtractEntityIDs(conds),
		MediaQueries:   condition.ExtractMediaQueries(conds),
		TimeConditions: len(condition.ExtractTimeConditions(conds)),
	}
	if resp.Problems == nil {
		resp.Problems = []condition.Problem{}
	}
	if resp.Entities == nil {
		resp.Entities = []string{}
	}

	now := time.Now()
	for _, tc := range condition.ExtractTimeConditions(conds) {
		d, ok := condition.NextTimeUpdate(tc, now, s.deps.Board.Location())
		if !ok {
			continue
		}
		secs := d.Seconds()
		if resp.NextUpdate == nil || secs < *resp.NextUpdate {
			resp.NextUpdate = &secs
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	conds, ok := s.decodeConditions(w, r)
	if !ok {
		return
	}

	problems := condition.Lint(conds)
	for _, q := range condition.ExtractMediaQueries(conds) {
		if _, err := mediaquery.Parse(q); err != nil {
			problems = append(problems, condition.Problem{Message: err.Error()})
		}
	}
	if problems == nil {
		problems = []condition.Problem{}
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: len(problems) == 0, Problems: problems})
}
