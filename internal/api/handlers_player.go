package api

import (
	"errors"
	"net/http"

	"github.com/sydlexius/rosterimport/internal/player"
)

func (r *Router) handleListPlayers(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	params := player.ListParams{
		Page:     intParam(req, "page", 1),
		PageSize: intParam(req, "page_size", 50),
		Sort:     q.Get("sort"),
		Order:    q.Get("order"),
		Search:   q.Get("q"),
	}
	params.Validate()

	players, total, err := r.playerService.List(req.Context(), params)
	if err != nil {
		r.logger.Error("listing players", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"players":   players,
		"total":     total,
		"page":      params.Page,
		"page_size": params.PageSize,
	})
}

func (r *Router) handleGetPlayer(w http.ResponseWriter, req *http.Request) {
	p, err := r.playerService.GetByID(req.Context(), req.PathValue("id"))
	if err != nil {
		if errors.Is(err, player.ErrNotFound) {
			writeError(w, http.StatusNotFound, "player not found")
			return
		}
		r.logger.Error("getting player", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
