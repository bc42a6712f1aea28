package utils

import (
	"os"
	"time"

	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// SetDeadlockDetection 开关锁顺序检测，registry、断点和回调的锁都使用go-deadlock
func SetDeadlockDetection(enabled bool, timeout time.Duration) {
	deadlock.Opts.Disable = !enabled
	if timeout > 0 {
		deadlock.Opts.DeadlockTimeout = timeout
	}
	deadlock.Opts.LogBuf = logrus.StandardLogger().WriterLevel(logrus.ErrorLevel)
	deadlock.Opts.OnPotentialDeadlock = func() {
		logrus.Errorf("[deadlock] potential deadlock detected")
		os.Exit(2)
	}
}
