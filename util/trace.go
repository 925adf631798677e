package util

import (
	"time"

	"go.uber.org/zap"
)

// Trace 记录一段操作的耗时，用法: defer util.Trace("gen cutout")()
func Trace(msg string) func() {
	start := time.Now()
	zap.L().Debug("trace start", zap.String("op", msg))
	return func() {
		zap.L().Info("trace done", zap.String("op", msg), zap.Duration("elapsed", time.Since(start)))
	}
}
