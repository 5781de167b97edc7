package checkin

import (
	"fmt"

	"attendance/pkg/types"
)

var (
	ErrResolveLimitExceeded = fmt.Errorf("%w: too many join code attempts, wait a minute", types.ErrRateLimited)
	ErrCodeNotFound         = fmt.Errorf("%w: no open session for this code", types.ErrNotFound)
	ErrNotEnrolled          = fmt.Errorf("%w: not enrolled in this class", types.ErrForbidden)
	ErrNoMatch              = fmt.Errorf("%w: face did not match the registered profile", types.ErrVerificationFailed)
)
