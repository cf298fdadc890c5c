package alist

import "time"

// Entry is one node returned by a directory listing, immutable for the
// lifetime of a mirror run.
type Entry struct {
	Name        string
	Path        string
	IsDir       bool
	Size        int64
	ModifiedAt  time.Time
	Suffix      string
	DownloadURL string
	RawURL      string
}
