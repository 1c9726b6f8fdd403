// ABOUTME: HTTP handlers for the session lifecycle: start, upload, run, inspect, download.
// ABOUTME: Handlers stay thin; session semantics live in the pipeline package.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seqmill/seqmill/pipeline"
	"github.com/seqmill/seqmill/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	id, _, err := pipeline.CreateSession(s.Exec.BaseDir)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.Index != nil {
		if err := s.Index.Add(id, time.Now()); err != nil {
			s.Log.Warn("index add failed", "session", id, "error", err)
		}
	}
	s.Log.Info("session started", "session", id)
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.Index == nil {
		writeJSON(w, http.StatusOK, map[string]any{"sessions": []store.SessionRecord{}})
		return
	}
	records, err := s.Index.List()
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []store.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": records})
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := pipeline.SessionDir(s.Exec.BaseDir, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": s.Exec.Registry.List()})
}

// touch refreshes the session's index entry, best effort.
func (s *Server) touch(id string, steps int) {
	if s.Index == nil {
		return
	}
	if err := s.Index.Touch(id, time.Now(), steps); err != nil {
		s.Log.Warn("index touch failed", "session", id, "error", err)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form: " + err.Error()})
		return
	}

	f1, h1, err := r.FormFile("r1")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "r1 file is required"})
		return
	}
	defer func() { _ = f1.Close() }()

	f2, h2, err := r.FormFile("r2")
	haveR2 := err == nil
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid r2 upload: " + err.Error()})
		return
	}
	if haveR2 {
		defer func() { _ = f2.Close() }()
	}

	st, err := s.Exec.Mutate(id, func(dir string, st *pipeline.SessionState) error {
		art, err := pipeline.SaveRead(f1, h1.Filename, pipeline.ChannelR1, dir)
		if err != nil {
			return err
		}
		st.SetCurrent(art)
		if haveR2 {
			art2, err := pipeline.SaveRead(f2, h2.Filename, pipeline.ChannelR2, dir)
			if err != nil {
				return err
			}
			st.SetCurrent(art2)
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.touch(id, len(st.Steps))
	s.Log.Info("reads uploaded", "session", id, "r1", h1.Filename, "r2", haveR2)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleUploadAux(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form: " + err.Error()})
		return
	}

	f, h, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file is required"})
		return
	}
	defer func() { _ = f.Close() }()

	name := r.FormValue("name")
	if name == "" {
		name = h.Filename
	}

	var role, stored string
	st, err := s.Exec.Mutate(id, func(dir string, st *pipeline.SessionState) error {
		var art pipeline.Artifact
		var err error
		role, stored, art, err = pipeline.SaveAux(f, name, dir)
		if err != nil {
			return err
		}
		if role != "" {
			st.Aux[role] = stored
		}
		st.Register(art)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.touch(id, len(st.Steps))
	s.Log.Info("aux uploaded", "session", id, "stored", stored, "role", role)
	writeJSON(w, http.StatusOK, map[string]any{"stored": stored, "role": role, "aux": st.Aux})
}

type runRequest struct {
	UnitID string          `json:"unit_id"`
	Params pipeline.Params `json:"params"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.UnitID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unit_id is required"})
		return
	}

	outcome, err := s.Exec.Execute(r.Context(), id, req.UnitID, req.Params)
	if err != nil {
		s.Log.Warn("unit failed", "session", id, "unit", req.UnitID, "error", err)
		writeError(w, err)
		return
	}
	s.touch(id, outcome.Step.Index+1)
	s.Log.Info("unit completed", "session", id, "unit", req.UnitID, "step", outcome.Step.Index)
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	st, err := s.Exec.Load(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	name := chi.URLParam(r, "artifact")

	dir, err := pipeline.SessionDir(s.Exec.BaseDir, id)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := s.Exec.Load(id)
	if err != nil {
		writeError(w, err)
		return
	}
	art, ok := st.Artifacts[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("artifact not found: %s", name)})
		return
	}

	full := filepath.Join(dir, art.Path)
	if rel, err := filepath.Rel(dir, full); err != nil || strings.HasPrefix(rel, "..") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("artifact not found: %s", name)})
		return
	}
	if !fileExists(full) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("artifact file missing: %s", art.Path)})
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(art.Path)))
	http.ServeFile(w, r, full)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (s *Server) handleStepLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	stepStr := chi.URLParam(r, "step")

	step, err := strconv.Atoi(stepStr)
	if err != nil || step < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid step index %q", stepStr)})
		return
	}
	dir, err := pipeline.SessionDir(s.Exec.BaseDir, id)
	if err != nil {
		writeError(w, err)
		return
	}

	text := pipeline.CollectStepLogs(dir, step)
	if text == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no logs for step %d", step)})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(text))
}
