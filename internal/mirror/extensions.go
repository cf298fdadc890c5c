package mirror

// Fixed, lowercase, dot-prefixed extension sets used by the path planner.
// Exact membership is a product decision; the sets themselves are the
// configurable surface.
var (
	VideoExts = map[string]bool{
		".mp4": true, ".mkv": true, ".m2ts": true, ".ts": true, ".avi": true,
		".mov": true, ".wmv": true, ".flv": true, ".webm": true, ".iso": true,
		".m3u8": true,
	}

	SubtitleExts = map[string]bool{
		".srt": true, ".ass": true, ".ssa": true, ".sub": true, ".vtt": true,
	}

	ImageExts = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true,
	}

	NFOExts = map[string]bool{
		".nfo": true,
	}
)
