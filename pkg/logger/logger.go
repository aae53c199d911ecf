// Package logger builds the structured logger every subsystem threads
// through its Config. It exists because the teacher package that originally
// filled this role (pkg/logger, called from pkg/ignite.NewInstance) was
// never checked in; this fills that gap with the same call convention.
package logger

import (
	"go.uber.org/zap"
)

// New builds a production zap logger tagged with the given service name,
// falling back to a no-op sugared logger if zap construction itself fails
// (which in practice only happens under a broken encoder config).
func New(service string) *zap.SugaredLogger {
	base, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return base.Sugar().With("service", service)
}
