package mirror

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cybozu-go/alist2strm/internal/alist"
	"github.com/cybozu-go/alist2strm/internal/config"
)

// Action is the write decision the planner reaches for one remote entry.
type Action int

const (
	ActionSkip Action = iota
	ActionWriteLocator
	ActionDownload
)

// Plan is the per-entry decision produced by the path planner.
type Plan struct {
	LocalPath      string
	Action         Action
	LocatorContent string
}

// processExts returns the set of extensions the source will act on, and the
// subset that triggers a download rather than a locator write. Matches the
// source's flatten_mode override: in flatten mode only videos are emitted.
func processExts(src *config.Source) (process, download map[string]bool) {
	download = make(map[string]bool)
	if !src.FlattenMode {
		if src.Subtitle {
			mergeInto(download, SubtitleExts)
		}
		if src.Image {
			mergeInto(download, ImageExts)
		}
		if src.NFO {
			mergeInto(download, NFOExts)
		}
		for _, ext := range strings.Split(src.OtherExts, ",") {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext != "" {
				download[ext] = true
			}
		}
	}

	process = make(map[string]bool, len(VideoExts)+len(download))
	mergeInto(process, VideoExts)
	mergeInto(process, download)
	return process, download
}

func mergeInto(dst, src map[string]bool) {
	for k := range src {
		dst[k] = true
	}
}

// Plan computes the local destination and write action for one remote
// entry under src. It is pure except for one stat call against the local
// filesystem to honor the overwrite setting.
func Plan(entry alist.Entry, src *config.Source) (p Plan, ok bool) {
	if entry.IsDir {
		return Plan{}, false
	}

	process, download := processExts(src)
	ext := strings.ToLower(entry.Suffix)
	if !process[ext] {
		return Plan{}, false
	}

	localPath := localPath(entry, src)
	p = Plan{LocalPath: localPath}

	if VideoExts[ext] {
		localPath = replaceSuffix(localPath, ".strm")
		p.LocalPath = localPath
		p.Action = ActionWriteLocator
		p.LocatorContent = locatorContent(entry, src)
	} else if download[ext] {
		p.Action = ActionDownload
	} else {
		return Plan{}, false
	}

	if !src.Overwrite {
		if _, err := os.Stat(p.LocalPath); err == nil {
			p.Action = ActionSkip
		}
	}

	return p, true
}

func localPath(entry alist.Entry, src *config.Source) string {
	if src.FlattenMode {
		return filepath.Join(src.TargetDir, entry.Name)
	}

	rel := strings.Replace(entry.Path, src.SourceDir, "", 1)
	rel = strings.TrimPrefix(rel, "/")
	return filepath.Join(src.TargetDir, rel)
}

func replaceSuffix(path, newSuffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + newSuffix
}

func locatorContent(entry alist.Entry, src *config.Source) string {
	switch src.Mode {
	case config.ModeLocatorOriginURL:
		return entry.RawURL
	case config.ModeLocatorRemotePath:
		return src.LocatorContentPrefix + entry.Path
	default: // config.ModeLocatorPublicURL and any unrecognized mode
		return entry.DownloadURL
	}
}
