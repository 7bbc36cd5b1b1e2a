package runner

import (
	"github.com/spf13/cobra"

	"github.com/holdfast-net/holdfast/internal/logging"
)

// Interceptor is a function that wraps command execution.
type Interceptor func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error

// RequireConfig ensures the configuration is loaded before executing the command.
func RequireConfig() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		if ctx.ConfigErr != nil {
			return ctx.ConfigErr
		}
		if ctx.Config == nil {
			return ErrNotInitialized
		}
		return next()
	}
}

// RequireKeystore ensures key material exists before executing the command.
// Implicitly requires config to be loaded.
func RequireKeystore() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		if ctx.ConfigErr != nil {
			return ctx.ConfigErr
		}
		if ctx.Config == nil {
			return ErrNotInitialized
		}
		if _, err := ctx.Keystore(); err != nil {
			return err
		}
		return next()
	}
}

// WithLogging logs command execution.
func WithLogging() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		logging.Debug("CLI command", logging.String("cmd", cmd.Name()))
		err := next()
		if err != nil {
			logging.Debug("CLI error", logging.String("cmd", cmd.Name()), logging.Err(err))
		}
		return err
	}
}

// AllowUninitialized marks that this command can run without initialization.
// This is a no-op interceptor that documents intent.
func AllowUninitialized() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		return next()
	}
}
