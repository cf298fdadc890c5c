package mirror

import "github.com/cockroachdb/errors"

// Error taxonomy, checked with errors.Is against the errors returned or
// logged by Engine.Run and the task supervisor. ErrConfig and the remote
// enumeration failures ErrAuth/ErrRemote abort a run; ErrLocalIO and
// ErrPlan are per-entry concerns the engine logs and continues past.
var (
	ErrConfig    = errors.New("mirror: config error")
	ErrAuth      = errors.New("mirror: auth error")
	ErrRemote    = errors.New("mirror: remote error")
	ErrLocalIO   = errors.New("mirror: local I/O error")
	ErrPlan      = errors.New("mirror: plan error")
	ErrDuplicate = errors.New("mirror: duplicate submission")
)
