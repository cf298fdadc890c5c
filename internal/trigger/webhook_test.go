package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cybozu-go/alist2strm/internal/config"
	"github.com/cybozu-go/alist2strm/internal/task"
)

type fakeRefresher struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRefresher) RefreshTree(ctx context.Context, base, sub string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, base+"|"+sub)
	return nil
}

func newTestWebhookServer(t *testing.T, refresher *fakeRefresher) (*WebhookServer, *task.Supervisor, chan string) {
	t.Helper()
	submitted := make(chan string, 1)
	sources := map[string]*config.Source{"movies": {ID: "movies", SourceDir: "/movies"}}
	sup := task.NewSupervisor(sources, func(ctx context.Context, src *config.Source, refresh bool, subDir string) error {
		submitted <- src.ID + "|" + subDir
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sup.Run(ctx)

	s := &WebhookServer{
		Token:      "whtoken",
		Supervisor: sup,
		Sources:    sources,
		NewRemoteClient: func(src *config.Source) RemoteTreeRefresher {
			return refresher
		},
		sleep: func(time.Duration) {},
	}
	return s, sup, submitted
}

func TestWebhookRejectsBadToken(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestWebhookServer(t, &fakeRefresher{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/webhooks/wrong/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestWebhookSingleSubmitsScopedTask(t *testing.T) {
	t.Parallel()

	refresher := &fakeRefresher{}
	s, _, submitted := newTestWebhookServer(t, refresher)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := `{"type":"metadata.scrape","data":{"mediainfo":{"category":"movies","type":"movie"},"fileitem":{"type":"dir","name":"NewRelease"}}}`
	resp, err := http.Post(srv.URL+"/webhooks/whtoken/single?type=metadata.scrape&wait=180", "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var respBody apiResponse
	json.NewDecoder(resp.Body).Decode(&respBody)
	if respBody.Status != "success" {
		t.Fatalf("status = %q, want success", respBody.Status)
	}

	select {
	case got := <-submitted:
		if got != "movies|NewRelease" {
			t.Errorf("submitted = %q, want movies|NewRelease", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for submission")
	}
}

func TestWebhookSkipsSeasonLevelNotification(t *testing.T) {
	t.Parallel()

	refresher := &fakeRefresher{}
	s, _, submitted := newTestWebhookServer(t, refresher)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := `{"type":"metadata.scrape","data":{"mediainfo":{"category":"movies","type":"series"},"fileitem":{"type":"dir","name":"Season 01"}}}`
	resp, err := http.Post(srv.URL+"/webhooks/whtoken/single?type=metadata.scrape&wait=180", "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var respBody apiResponse
	json.NewDecoder(resp.Body).Decode(&respBody)
	if respBody.Status != "failed" {
		t.Errorf("status = %q, want failed", respBody.Status)
	}

	select {
	case got := <-submitted:
		t.Fatalf("unexpected submission: %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestParseWaitClampsToMinimum(t *testing.T) {
	t.Parallel()

	if got := parseWait("10"); got != minWebhookWait {
		t.Errorf("parseWait(10) = %v, want %v", got, minWebhookWait)
	}
	if got := parseWait("300"); got != 300*time.Second {
		t.Errorf("parseWait(300) = %v, want 300s", got)
	}
	if got := parseWait("not-a-number"); got != minWebhookWait {
		t.Errorf("parseWait(invalid) = %v, want %v", got, minWebhookWait)
	}
}
