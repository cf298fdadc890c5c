package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cybozu-go/alist2strm/internal/config"
	"github.com/cybozu-go/alist2strm/internal/task"
)

func newTestAPIServer(t *testing.T, runner task.Runner) *APIServer {
	t.Helper()
	sources := map[string]*config.Source{"movies": {ID: "movies"}}
	sup := task.NewSupervisor(sources, runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sup.Run(ctx)

	return &APIServer{
		Token:      "secret",
		Supervisor: sup,
		Scheduler:  NewScheduler(),
		LogDir:     t.TempDir(),
	}
}

func TestHandleRootRequiresToken(t *testing.T) {
	t.Parallel()

	s := newTestAPIServer(t, func(context.Context, *config.Source, bool, string) error { return nil })
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHandleRunRejectsMissingTaskID(t *testing.T) {
	t.Parallel()

	s := newTestAPIServer(t, func(context.Context, *config.Source, bool, string) error { return nil })
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/strm/run", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body apiResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Status != "failed" {
		t.Errorf("status = %q, want failed", body.Status)
	}
}

func TestHandleRunAdmitsKnownTask(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	s := newTestAPIServer(t, func(ctx context.Context, src *config.Source, refresh bool, subDir string) error {
		<-block
		return nil
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer close(block)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/strm/run", bytes.NewReader([]byte(`{"task_id":"movies"}`)))
	req.Header.Set("Authorization", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body apiResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Status != "success" {
		t.Errorf("status = %q, want success", body.Status)
	}
}

func TestHandleRunUnknownTaskReturns404(t *testing.T) {
	t.Parallel()

	s := newTestAPIServer(t, func(context.Context, *config.Source, bool, string) error { return nil })
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/strm/run", bytes.NewReader([]byte(`{"task_id":"ghost"}`)))
	req.Header.Set("Authorization", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleLogsListsFilesNewestFirst(t *testing.T) {
	t.Parallel()

	s := newTestAPIServer(t, func(context.Context, *config.Source, bool, string) error { return nil })
	for _, name := range []string{"2026-01-01", "2026-01-03", "2026-01-02"} {
		os.WriteFile(filepath.Join(s.LogDir, name), []byte("x"), 0o644)
	}

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/logs", nil)
	req.Header.Set("Authorization", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var names []string
	json.NewDecoder(resp.Body).Decode(&names)
	want := []string{"2026-01-03", "2026-01-02", "2026-01-01"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
