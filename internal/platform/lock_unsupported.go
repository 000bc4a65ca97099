//go:build !unix && !windows

package platform

import (
	"fmt"
	"runtime"
)

func acquireLock(_, _ string) (ProcessLock, error) {
	return nil, fmt.Errorf("%w on %s", ErrLockUnsupported, runtime.GOOS)
}
