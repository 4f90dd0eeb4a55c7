package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	domainauth "github.com/youthvoice/portal/internal/domain/auth"
	"github.com/youthvoice/portal/internal/service"
)

type whoamiOutput struct {
	State        domainauth.State `json:"state"`
	District     string           `json:"district,omitempty"`
	RegionAccess *bool            `json:"region_access,omitempty"`
}

// newSessionCoordinator builds a coordinator for one-shot CLI use; the caller starts it.
func newSessionCoordinator(a *app, h platformHandle, s *stores) *service.SessionCoordinator {
	opts := service.CoordinatorOptions{
		Platform:          h.platform,
		Credentials:       h.credentials,
		Logger:            a.logger,
		ResetRedirectURL:  a.cfg.Session.RedirectURL(a.cfg.HTTP.BaseURL),
		SafetyTimeout:     a.cfg.Session.SafetyTimeout,
		IdleTimeout:       a.cfg.Session.IdleTimeout,
		ProfileAttempts:   a.cfg.Session.ProfileAttempts,
		ProfileRetryDelay: a.cfg.Session.ProfileRetryDelay,
		CallTimeout:       a.cfg.Session.CallTimeout,
	}
	if s != nil {
		opts.Profiles = s.profiles
		opts.Audit = s.audit
	}
	return service.NewSessionCoordinator(opts)
}

func newWhoamiCmd(a *app) *cobra.Command {
	var (
		email, password, district string
		timeout                   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Sign in, print the bootstrapped session state, and sign out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			s, err := a.openStores(ctx, a)
			if err != nil {
				return err
			}
			defer s.close(a.logger)

			h, err := a.openPlatform(ctx, a)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := h.close(); cerr != nil {
					a.logger.Warn("platform close failed", "error", cerr)
				}
			}()

			coord := newSessionCoordinator(a, h, s)
			if err = coord.Start(ctx); err != nil {
				return err
			}
			defer coord.Stop()

			state, err := signInAndSettle(ctx, coord, email, password)
			if err != nil {
				return err
			}
			defer coord.SignOut(context.WithoutCancel(ctx))

			out := whoamiOutput{State: state}
			if district != "" {
				ok := coord.CanAccessRegion(district)
				out.District = district
				out.RegionAccess = &ok
			}
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&district, "district", "", "also report whether the user may view this district")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "maximum time to wait for the session to settle")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// signInAndSettle signs in and waits for the signed-in state with its profile fetch finished.
func signInAndSettle(ctx context.Context, coord *service.SessionCoordinator, email, password string) (domainauth.State, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	states, err := coord.Watch(watchCtx)
	if err != nil {
		return domainauth.State{}, err
	}
	if err = coord.SignIn(ctx, email, password); err != nil {
		return domainauth.State{}, err
	}
	for st := range states {
		if st.Authenticated() && st.Settled() {
			return st, nil
		}
	}
	if err = ctx.Err(); err != nil {
		return coord.Snapshot(), fmt.Errorf("wait for session: %w", err)
	}
	return coord.Snapshot(), errors.New("session coordinator stopped before sign-in settled")
}

func newResetPasswordCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password EMAIL",
		Short: "Send a password-recovery email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withCommandTimeout(cmd)
			defer cancel()

			h, err := a.openPlatform(ctx, a)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := h.close(); cerr != nil {
					a.logger.Warn("platform close failed", "error", cerr)
				}
			}()

			if err = newSessionCoordinator(a, h, nil).ResetPassword(ctx, args[0]); err != nil {
				return err
			}
			a.logger.Info("password reset requested", "email", args[0])
			return nil
		},
	}
}
