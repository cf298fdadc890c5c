package trigger

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cybozu-go/alist2strm/internal/config"
	"github.com/cybozu-go/alist2strm/internal/task"
)

const minWebhookWait = 180 * time.Second

// RemoteTreeRefresher is the subset of *alist.Client the webhook handler
// needs, so tests can substitute a fake.
type RemoteTreeRefresher interface {
	RefreshTree(ctx context.Context, base, sub string) error
}

// WebhookServer handles POST /webhooks/{token}/single, reacting to external
// "new media" notifications by refreshing the remote listing cache for the
// affected subtree and then submitting a scoped sync.
type WebhookServer struct {
	Token      string
	Supervisor *task.Supervisor
	Sources    map[string]*config.Source

	// NewRemoteClient builds the tree-refresher for a source; overridable in
	// tests.
	NewRemoteClient func(src *config.Source) RemoteTreeRefresher

	// sleep is overridable in tests to avoid real delays.
	sleep func(time.Duration)
}

type webhookMediaInfo struct {
	Category string `json:"category"`
	Type     string `json:"type"`
}

type webhookFileItem struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Path string `json:"path"`
}

type webhookRequest struct {
	Type string `json:"type"`
	Data struct {
		MediaInfo webhookMediaInfo `json:"mediainfo"`
		FileItem  webhookFileItem  `json:"fileitem"`
	} `json:"data"`
}

// Handler returns the mux serving the webhook endpoint for one path token.
func (s *WebhookServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /webhooks/{token}/", s.handleLiveness)
	mux.HandleFunc("POST /webhooks/{token}/single", s.handleSingle)
	return mux
}

func (s *WebhookServer) checkToken(r *http.Request) bool {
	return r.PathValue("token") == s.Token
}

func (s *WebhookServer) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if !s.checkToken(r) {
		writeJSON(w, http.StatusUnauthorized, apiResponse{Status: "failed", Message: "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Status: "success", Version: Version, Message: "webhooks running"})
}

func (s *WebhookServer) handleSingle(w http.ResponseWriter, r *http.Request) {
	if !s.checkToken(r) {
		writeJSON(w, http.StatusUnauthorized, apiResponse{Status: "failed", Message: "unauthorized"})
		return
	}

	expectedType := r.URL.Query().Get("type")
	wait := parseWait(r.URL.Query().Get("wait"))

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, apiResponse{Status: "failed", Message: "malformed request body"})
		return
	}

	if req.Type != expectedType {
		writeJSON(w, http.StatusOK, apiResponse{Status: "failed", Message: "type " + req.Type + " does not match requested " + expectedType})
		return
	}

	fileItem := req.Data.FileItem
	if fileItem.Type != "dir" {
		writeJSON(w, http.StatusOK, apiResponse{Status: "failed", Message: "fileitem is not a directory"})
		return
	}

	// name must be read before the season guard evaluates it.
	name := fileItem.Name
	if req.Data.MediaInfo.Type == "series" && strings.Contains(name, "Season") {
		writeJSON(w, http.StatusOK, apiResponse{Status: "failed", Message: "season-level notification skipped, series jobs only"})
		return
	}

	taskID := req.Data.MediaInfo.Category
	if taskID == "" {
		writeJSON(w, http.StatusOK, apiResponse{Status: "failed", Message: "mediainfo.category not set"})
		return
	}

	src, ok := s.Sources[taskID]
	if !ok {
		writeJSON(w, http.StatusOK, apiResponse{Status: "failed", Message: "unknown task " + taskID})
		return
	}

	go s.delayedRefreshAndSubmit(context.Background(), src, taskID, name, wait)

	writeJSON(w, http.StatusOK, apiResponse{Status: "success", Message: "scheduled refresh for " + taskID})
}

func (s *WebhookServer) delayedRefreshAndSubmit(ctx context.Context, src *config.Source, taskID, subDir string, wait time.Duration) {
	sleep := s.sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	sleep(wait)

	client := s.NewRemoteClient(src)
	if err := client.RefreshTree(ctx, src.SourceDir, subDir); err != nil {
		slog.Error("webhook: refresh tree failed", "task_id", taskID, "error", err)
	}

	s.Supervisor.Submit(taskID, false, subDir)
}

func parseWait(raw string) time.Duration {
	seconds, err := strconv.Atoi(raw)
	if err != nil || time.Duration(seconds)*time.Second < minWebhookWait {
		return minWebhookWait
	}
	return time.Duration(seconds) * time.Second
}
