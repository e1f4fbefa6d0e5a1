package utils

import (
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// RecoverFromPanic recovers from panics and logs them
func RecoverFromPanic(logger zerolog.Logger, context string) {
	if r := recover(); r != nil {
		logger.Error().
			Str("context", context).
			Str("panic", fmt.Sprint(r)).
			Bytes("stack", debug.Stack()).
			Msg("panic recovered")
	}
}

// SafeGo runs a goroutine with panic recovery
func SafeGo(logger zerolog.Logger, context string, fn func()) {
	go func() {
		defer RecoverFromPanic(logger, context)
		fn()
	}()
}

// SafeGoWithError runs a goroutine with panic recovery and error handling
func SafeGoWithError(logger zerolog.Logger, context string, fn func() error, onError func(error)) {
	go func() {
		defer RecoverFromPanic(logger, context)
		if err := fn(); err != nil {
			logger.Error().Err(err).Str("context", context).Msg("background task failed")
			if onError != nil {
				onError(err)
			}
		}
	}()
}
