package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	todo "github.com/chimerakang/todo-go"
	"github.com/chimerakang/todo-go/federation"
	"github.com/spf13/cobra"
)

func newLoginCmd(get func() *app, opts *rootOptions) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()

			if password == "" {
				var err error
				if password, err = readPassword(cmd); err != nil {
					return err
				}
			}
			id, err := a.sessions.Login(ctx, email, password)
			if err != nil {
				return errors.New(userMessage(err))
			}
			fmt.Fprintf(a.out, "Signed in as %s\n", id.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSignupCmd(get func() *app, opts *rootOptions) *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()

			if password == "" {
				var err error
				if password, err = readPassword(cmd); err != nil {
					return err
				}
			}
			id, err := a.sessions.Signup(ctx, email, password, name)
			if err != nil {
				return errors.New(userMessage(err))
			}
			fmt.Fprintf(a.out, "Account created. Signed in as %s\n", id.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password, at least 6 characters (read from stdin when omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSocialLoginCmd(get func() *app, opts *rootOptions) *cobra.Command {
	var provider string
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "social-login",
		Short: "Sign in through an external identity provider",
		Long: `Starts the provider's consent flow and waits for its redirect on the
loopback address configured in GOOGLE_REDIRECT_URL (for example
http://127.0.0.1:8765/callback).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if provider == federation.ProviderGoogle && !a.cfg.GoogleEnabled() {
				return errors.New("social sign-in is not configured: set GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			id, err := socialLogin(ctx, a, provider, a.cfg.Google.RedirectURL)
			if err != nil {
				return errors.New(userMessage(err))
			}
			fmt.Fprintf(a.out, "Signed in as %s\n", id.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", federation.ProviderGoogle, "Identity provider")
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Minute, "How long to wait for the browser redirect")
	return cmd
}

// socialLogin serves the redirect target on loopback, starts the flow and
// completes it with the first callback that arrives.
func socialLogin(ctx context.Context, a *app, provider, redirectURL string) (*todo.Identity, error) {
	redirect, err := url.Parse(redirectURL)
	if err != nil || redirect.Host == "" {
		return nil, fmt.Errorf("invalid redirect URL %q", redirectURL)
	}
	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("listen for the redirect on %s: %w", redirect.Host, err)
	}

	type result struct {
		id  *todo.Identity
		err error
	}
	done := make(chan result, 1)

	path := redirect.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var res result
		if e := q.Get("error"); e != "" {
			res.err = &todo.FederationError{Provider: provider, Message: "sign-in was cancelled (" + e + ")"}
		} else {
			res.id, res.err = a.sessions.CompleteSocialLogin(r.Context(), provider, q.Get("code"), q.Get("state"))
		}
		if res.err != nil {
			http.Error(w, todo.MessageOf(res.err), http.StatusBadRequest)
		} else {
			fmt.Fprintln(w, "Signed in. You can close this window.")
		}
		select {
		case done <- res:
		default:
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if _, err := a.sessions.LoginWithSocialProvider(ctx, provider); err != nil {
		return nil, err
	}

	select {
	case res := <-done:
		return res.id, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("timed out waiting for the sign-in redirect")
	}
}

func newLogoutCmd(get func() *app, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()

			a.sessions.Logout(ctx)
			fmt.Fprintln(a.out, "Signed out")
			return nil
		},
	}
}

func newWhoamiCmd(get func() *app, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()

			state, err := a.client.Start(ctx)
			if err != nil {
				return err
			}
			if !state.Authenticated {
				fmt.Fprintln(a.out, "Not signed in")
				return nil
			}
			id := state.Identity
			fmt.Fprintf(a.out, "%s\n  id:   %s\n", id.Email, id.ID)
			if id.Name != "" {
				fmt.Fprintf(a.out, "  name: %s\n", id.Name)
			}
			return nil
		},
	}
}

// readPassword reads one line from stdin.
func readPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Fprintln(cmd.ErrOrStderr())
	return strings.TrimRight(line, "\r\n"), nil
}
