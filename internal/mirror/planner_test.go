package mirror

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cybozu-go/alist2strm/internal/alist"
	"github.com/cybozu-go/alist2strm/internal/config"
)

func baseSource(t *testing.T) *config.Source {
	t.Helper()
	return &config.Source{
		ID:            "t",
		RemoteBaseURL: "http://localhost:5244",
		SourceDir:     "/movies",
		TargetDir:     t.TempDir(),
		Mode:          config.ModeLocatorPublicURL,
	}
}

func TestPlanDirectoryIsNotApplicable(t *testing.T) {
	t.Parallel()

	src := baseSource(t)
	_, ok := Plan(alist.Entry{IsDir: true, Path: "/movies/sub"}, src)
	if ok {
		t.Fatal("expected directory to not produce a plan")
	}
}

func TestPlanVideoProducesLocatorWithDownloadURL(t *testing.T) {
	t.Parallel()

	src := baseSource(t)
	entry := alist.Entry{
		Name: "a.mkv", Path: "/movies/a.mkv", Suffix: ".mkv",
		DownloadURL: "https://cdn.example/a.mkv",
	}

	p, ok := Plan(entry, src)
	if !ok {
		t.Fatal("expected a plan")
	}
	if p.Action != ActionWriteLocator {
		t.Fatalf("Action = %v, want ActionWriteLocator", p.Action)
	}
	if p.LocatorContent != entry.DownloadURL {
		t.Errorf("LocatorContent = %q, want %q", p.LocatorContent, entry.DownloadURL)
	}
	want := filepath.Join(src.TargetDir, "a.strm")
	if p.LocalPath != want {
		t.Errorf("LocalPath = %q, want %q", p.LocalPath, want)
	}
}

func TestPlanOriginURLModeRequiresRawURL(t *testing.T) {
	t.Parallel()

	src := baseSource(t)
	src.Mode = config.ModeLocatorOriginURL
	entry := alist.Entry{
		Name: "a.mkv", Path: "/movies/a.mkv", Suffix: ".mkv",
		RawURL: "https://origin.example/a.mkv",
	}

	p, ok := Plan(entry, src)
	if !ok || p.LocatorContent != entry.RawURL {
		t.Fatalf("got %+v, ok=%v, want RawURL content", p, ok)
	}
}

func TestPlanRemotePathModeUsesPrefix(t *testing.T) {
	t.Parallel()

	src := baseSource(t)
	src.Mode = config.ModeLocatorRemotePath
	src.LocatorContentPrefix = "alist://"
	entry := alist.Entry{Name: "a.mkv", Path: "/movies/a.mkv", Suffix: ".mkv"}

	p, ok := Plan(entry, src)
	if !ok || p.LocatorContent != "alist://"+entry.Path {
		t.Fatalf("got %+v, ok=%v", p, ok)
	}
}

func TestPlanNonProcessExtSkipped(t *testing.T) {
	t.Parallel()

	src := baseSource(t)
	entry := alist.Entry{Name: "a.txt", Path: "/movies/a.txt", Suffix: ".txt"}
	if _, ok := Plan(entry, src); ok {
		t.Fatal("expected .txt to not be a candidate when no download ext enables it")
	}
}

func TestPlanSubtitleDownloadsWhenEnabled(t *testing.T) {
	t.Parallel()

	src := baseSource(t)
	src.Subtitle = true
	entry := alist.Entry{
		Name: "a.srt", Path: "/movies/a.srt", Suffix: ".srt",
		DownloadURL: "https://cdn.example/a.srt",
	}

	p, ok := Plan(entry, src)
	if !ok || p.Action != ActionDownload {
		t.Fatalf("got %+v, ok=%v, want ActionDownload", p, ok)
	}
}

func TestPlanFlattenModeDropsAuxDownloads(t *testing.T) {
	t.Parallel()

	src := baseSource(t)
	src.FlattenMode = true
	src.Subtitle = true
	entry := alist.Entry{Name: "a.srt", Path: "/movies/sub/a.srt", Suffix: ".srt"}

	if _, ok := Plan(entry, src); ok {
		t.Fatal("expected subtitle download to be suppressed under flatten_mode")
	}
}

func TestPlanFlattenModeUsesTargetDirDirectly(t *testing.T) {
	t.Parallel()

	src := baseSource(t)
	src.FlattenMode = true
	entry := alist.Entry{Name: "a.mkv", Path: "/movies/season1/a.mkv", Suffix: ".mkv"}

	p, ok := Plan(entry, src)
	if !ok {
		t.Fatal("expected a plan")
	}
	want := filepath.Join(src.TargetDir, "a.strm")
	if p.LocalPath != want {
		t.Errorf("LocalPath = %q, want %q", p.LocalPath, want)
	}
}

func TestPlanSkipsWhenDestinationExistsAndNoOverwrite(t *testing.T) {
	t.Parallel()

	src := baseSource(t)
	entry := alist.Entry{Name: "a.mkv", Path: "/movies/a.mkv", Suffix: ".mkv"}

	dest := filepath.Join(src.TargetDir, "a.strm")
	if err := os.WriteFile(dest, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, ok := Plan(entry, src)
	if !ok {
		t.Fatal("expected a plan even when skipped, so reverse-sync preserves the file")
	}
	if p.Action != ActionSkip {
		t.Fatalf("Action = %v, want ActionSkip", p.Action)
	}
	if p.LocalPath != dest {
		t.Errorf("LocalPath = %q, want %q", p.LocalPath, dest)
	}
}

func TestPlanOverwriteTrueIgnoresExisting(t *testing.T) {
	t.Parallel()

	src := baseSource(t)
	src.Overwrite = true
	entry := alist.Entry{Name: "a.mkv", Path: "/movies/a.mkv", Suffix: ".mkv"}

	dest := filepath.Join(src.TargetDir, "a.strm")
	if err := os.WriteFile(dest, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, ok := Plan(entry, src)
	if !ok || p.Action != ActionWriteLocator {
		t.Fatalf("got %+v, ok=%v, want ActionWriteLocator", p, ok)
	}
}
