package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ocs-studio/server/internal/export"
	"github.com/ocs-studio/server/internal/ocs"
	"github.com/ocs-studio/server/internal/scene"
	"github.com/ocs-studio/server/internal/store"
)

func (s *server) exportSubmitHandler(w http.ResponseWriter, r *http.Request) {
	jm := s.cfg.Exports
	if jm == nil {
		http.Error(w, "export manager not configured", http.StatusNotImplemented)
		return
	}

	var req export.Request
	if err := s.do(r, func(v *scene.View) error {
		entries, records := v.Records()
		req.Entries = entries
		req.Records = make([]ocs.RenderRecord, len(records))
		copy(req.Records, records)
		return nil
	}); err != nil {
		s.writeError(w, err)
		return
	}
	req.SessionID = s.cfg.Sessions.ID()

	job, err := jm.Submit(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *server) exportStatusHandler(w http.ResponseWriter, r *http.Request) {
	jm := s.cfg.Exports
	if jm == nil {
		http.Error(w, "export manager not configured", http.StatusNotImplemented)
		return
	}
	job, err := jm.Get(chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *server) exportFileHandler(w http.ResponseWriter, r *http.Request) {
	jm := s.cfg.Exports
	if jm == nil {
		http.Error(w, "export manager not configured", http.StatusNotImplemented)
		return
	}
	jobID, name := chi.URLParam(r, "job_id"), chi.URLParam(r, "name")
	job, err := jm.Get(jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if job.Status != store.JobStatusCompleted {
		http.Error(w, fmt.Sprintf("export job is %s", job.Status), http.StatusConflict)
		return
	}

	info, rc, err := jm.Open(r.Context(), jobID, name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	io.Copy(w, rc)
}

func (s *server) exportDeleteHandler(w http.ResponseWriter, r *http.Request) {
	jm := s.cfg.Exports
	if jm == nil {
		http.Error(w, "export manager not configured", http.StatusNotImplemented)
		return
	}
	if err := jm.Delete(r.Context(), chi.URLParam(r, "job_id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
