package mdexec

import "go.uber.org/zap"

// defaultLogger returns log if non-nil, else a no-op logger so library use
// stays silent unless a caller opts in.
func defaultLogger(log *zap.Logger) *zap.Logger {
	if log != nil {
		return log
	}
	return zap.NewNop()
}
