package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/sydlexius/rosterimport/internal/roster"
)

const xlsxMediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handlePreview accepts a roster upload as multipart field "file" or as
// the raw request body and returns the ImportPreview.
func (r *Router) handlePreview(w http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(w, req.Body, r.maxUpload)

	data, opts, err := readUpload(req)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, roster.ErrUnsupportedFormat):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusBadRequest, "invalid upload: "+err.Error())
		}
		return
	}

	preview, err := r.previewService.Preview(req.Context(), data, opts)
	if err != nil {
		switch {
		case errors.Is(err, roster.ErrMissingNameColumns),
			errors.Is(err, roster.ErrUnsupportedFormat),
			errors.Is(err, roster.ErrUnreadableFile):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, roster.ErrStoreFull):
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			r.logger.Error("previewing import", "source", opts.Source, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

func readUpload(req *http.Request) ([]byte, roster.PreviewOptions, error) {
	var opts roster.PreviewOptions
	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))

	var data []byte
	if mediaType == "multipart/form-data" {
		file, hdr, err := req.FormFile("file")
		if err != nil {
			return nil, opts, fmt.Errorf("reading form file: %w", err)
		}
		defer file.Close() //nolint:errcheck

		data, err = io.ReadAll(file)
		if err != nil {
			return nil, opts, fmt.Errorf("reading form file: %w", err)
		}
		opts.Source = filepath.Base(hdr.Filename)
		opts.Format = roster.FormatFromFilename(hdr.Filename)
		if f := req.FormValue("format"); f != "" {
			if opts.Format, err = roster.ParseFormat(f); err != nil {
				return nil, opts, err
			}
		}
	} else {
		var err error
		data, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, opts, fmt.Errorf("reading body: %w", err)
		}
		switch mediaType {
		case "text/csv":
			opts.Format = roster.FormatCSV
		case "text/tab-separated-values":
			opts.Format = roster.FormatTSV
		case xlsxMediaType:
			opts.Format = roster.FormatXLSX
		}
	}

	q := req.URL.Query()
	if f := q.Get("format"); f != "" {
		format, err := roster.ParseFormat(f)
		if err != nil {
			return nil, opts, err
		}
		opts.Format = format
	}
	if s := q.Get("source"); s != "" {
		opts.Source = s
	}
	return data, opts, nil
}

func (r *Router) handleGetPreview(w http.ResponseWriter, req *http.Request) {
	preview, err := r.previewService.Get(req.PathValue("jobId"))
	if err != nil {
		r.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (r *Router) handleExecute(w http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(w, req.Body, 1<<20)

	var body roster.ResolutionRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.JobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	actions, err := body.Actions()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := r.executor.Execute(req.Context(), body.JobID, actions)
	if err != nil {
		r.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeJobError maps job store errors to responses.
func (r *Router) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, roster.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, roster.ErrJobAlreadyExecuted):
		writeError(w, http.StatusConflict, "job already executed")
	default:
		r.logger.Error("import job request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (r *Router) handleListImports(w http.ResponseWriter, req *http.Request) {
	runs, err := r.historyService.ListRuns(req.Context(), intParam(req, "limit", 20))
	if err != nil {
		r.logger.Error("listing import runs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imports": runs})
}

func (r *Router) handleGetImport(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	run, err := r.historyService.GetRun(req.Context(), id)
	if err != nil {
		if errors.Is(err, roster.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "import not found")
			return
		}
		r.logger.Error("getting import run", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	items, err := r.historyService.ListItems(req.Context(), id)
	if err != nil {
		r.logger.Error("listing import run items", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"import": run, "items": items})
}
