package api

import (
	"net/http"

	"github.com/sydlexius/rosterimport/internal/backup"
)

func (r *Router) handleBackupList(w http.ResponseWriter, _ *http.Request) {
	if r.backupService == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "backups": []backup.Info{}})
		return
	}

	backups, err := r.backupService.List()
	if err != nil {
		r.logger.Error("listing backups failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing backups failed")
		return
	}
	if backups == nil {
		backups = []backup.Info{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "backups": backups})
}
