/*
Package alist2strm mirrors a remote Alist-style cloud filesystem into a local
tree of ".strm" locator files, optionally downloading selected auxiliary
assets such as subtitles, images, and metadata sidecars.

The daemon is driven by a cron scheduler, an HTTP control plane, and a
webhook endpoint, all of which funnel into a single-flight task supervisor
that protects the one mirror engine allowed to run at a time.

The main packages are:

	github.com/cybozu-go/alist2strm/internal/alist    - remote filesystem client
	github.com/cybozu-go/alist2strm/internal/fetch    - pooled, chunked HTTP fetcher
	github.com/cybozu-go/alist2strm/internal/mirror   - path planner and mirror engine
	github.com/cybozu-go/alist2strm/internal/task     - single-flight task supervisor
	github.com/cybozu-go/alist2strm/internal/trigger  - cron, control API, and webhook adapters
	github.com/cybozu-go/alist2strm/internal/config   - YAML configuration
	github.com/cybozu-go/alist2strm/internal/logging  - size-rotated structured logging
	github.com/cybozu-go/alist2strm/internal/notify   - outbound Telegram-style notifications
	github.com/cybozu-go/alist2strm/internal/retry    - shared retry/backoff helper
	github.com/cybozu-go/alist2strm/cmd/alist2strmd   - daemon entry point
	github.com/cybozu-go/alist2strm/cmd/alist2strmctl - operator CLI
*/
package alist2strm
