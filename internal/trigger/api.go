package trigger

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/cybozu-go/alist2strm/internal/task"
)

// Version is the build version reported by GET /api/.
var Version = "dev"

// APIServer is the shared-secret-guarded control plane: GET /api/,
// POST /api/strm/run, GET /api/logs, GET /api/jobs.
type APIServer struct {
	Token      string
	Supervisor *task.Supervisor
	Scheduler  *Scheduler
	LogDir     string
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Version string `json:"version,omitempty"`
}

// Handler returns the mux serving the control API.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/", s.handleRoot)
	mux.HandleFunc("POST /api/strm/run", s.handleRun)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/jobs", s.handleJobs)
	return s.withAuth(mux)
}

func (s *APIServer) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" && r.Header.Get("Authorization") != s.Token {
			writeJSON(w, http.StatusUnauthorized, apiResponse{Status: "failed", Message: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apiResponse{Status: "success", Version: Version, Message: "alist2strm is running"})
}

type runRequest struct {
	TaskID string `json:"task_id"`
}

// handleRun mirrors the original's rejection of a request that omits
// task_id, rather than running every configured source.
func (s *APIServer) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TaskID == "" {
		writeJSON(w, http.StatusOK, apiResponse{Status: "failed", Message: "task_id not specified"})
		return
	}

	switch s.Supervisor.Submit(req.TaskID, false, "") {
	case task.ResultAdmitted:
		writeJSON(w, http.StatusOK, apiResponse{Status: "success", Message: "task " + req.TaskID + " admitted"})
	case task.ResultAlreadyPresent:
		writeJSON(w, http.StatusOK, apiResponse{Status: "warning", Message: "task " + req.TaskID + " already queued or running"})
	case task.ResultUnknownTask:
		writeJSON(w, http.StatusNotFound, apiResponse{Status: "failed", Message: "unknown task " + req.TaskID})
	}
}

func (s *APIServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		entries, err := os.ReadDir(s.LogDir)
		if err != nil {
			writeJSON(w, http.StatusOK, apiResponse{Status: "success", Message: "no logs"})
			return
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
		writeJSON(w, http.StatusOK, names)
		return
	}

	clean := filepath.Base(filename)
	path := filepath.Join(s.LogDir, clean)
	data, err := os.ReadFile(path) // #nosec G304 - name is sanitized to its base component
	if err != nil {
		writeJSON(w, http.StatusNotFound, apiResponse{Status: "failed", Message: "log file not found"})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

type jobsResponse struct {
	Cron []CronJob `json:"cron"`
	All  []string  `json:"all"`
}

func (s *APIServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	resp := jobsResponse{
		Cron: s.Scheduler.Jobs(),
		All:  s.Supervisor.Jobs(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
