package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	envFile string
	verbose bool
	timeout time.Duration
}

// newRootCmd builds the command tree. Each invocation gets its own app,
// built before the command runs. The returned func releases it and must
// run after Execute, whether or not the command failed.
func newRootCmd() (*cobra.Command, func()) {
	opts := &rootOptions{}
	var a *app

	root := &cobra.Command{
		Use:           "todoctl",
		Short:         "Sign in to the to-do service and manage your tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = newApp(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return err
		},
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Load environment from this file (default: ./.env when present)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Operation timeout")

	get := func() *app { return a }
	root.AddCommand(
		newLoginCmd(get, opts),
		newSignupCmd(get, opts),
		newSocialLoginCmd(get, opts),
		newLogoutCmd(get, opts),
		newWhoamiCmd(get, opts),
		newTasksCmd(get, opts),
		newServeCmd(get),
	)
	cleanup := func() {
		if a != nil {
			a.close()
			a = nil
		}
	}
	return root, cleanup
}

// withTimeout bounds one command's work.
func withTimeout(cmd *cobra.Command, opts *rootOptions) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), opts.timeout)
}
