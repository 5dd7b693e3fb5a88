package utilities

import (
	"github.com/samber/oops"
	"go.uber.org/zap"
)

// LogError logs err at error level. oops errors contribute their code and
// context as separate fields.
func LogError(logger *zap.SugaredLogger, msg string, err error) {
	if oopsErr, ok := oops.AsOops(err); ok {
		kv := []any{"error", oopsErr.Error()}
		if code := oopsErr.Code(); code != nil {
			kv = append(kv, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			kv = append(kv, "context", ctx)
		}
		logger.Errorw(msg, kv...)
		return
	}
	logger.Errorw(msg, "error", err)
}
