// Package plog provides the pool's contextual logger, a thin wrapper
// around zap in the style of repo/logging's GetContextLoggerFunc: one
// named, structured logger per component, used only off the hot path.
package plog

import "go.uber.org/zap"

var base = newBase()

func newBase() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		// zap.NewProduction only fails on a broken encoder config, which
		// never happens with the built-in production config.
		l = zap.NewNop()
	}

	return l
}

// Named returns a sugared logger scoped to component name.
func Named(name string) *zap.SugaredLogger {
	return base.Named(name).Sugar()
}
