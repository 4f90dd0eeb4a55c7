package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	domainauth "github.com/youthvoice/portal/internal/domain/auth"
	"github.com/youthvoice/portal/internal/ports"
)

const auditActionRolesSet = "roles.set"

var knownRoles = []domainauth.Role{
	domainauth.RoleSuperAdmin,
	domainauth.RoleAdmin,
	domainauth.RoleRegionalAdmin,
	domainauth.RoleUniversityAdmin,
	domainauth.RoleMember,
}

func parseRoles(args []string) (domainauth.RoleSet, error) {
	out := make(domainauth.RoleSet, 0, len(args))
	for _, raw := range args {
		r := domainauth.Role(strings.ToLower(strings.TrimSpace(raw)))
		if !slices.Contains(knownRoles, r) {
			return nil, fmt.Errorf("unknown role %q", raw)
		}
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func newRolesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Inspect and assign user roles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list USER_ID",
		Short: "List the roles held by a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withCommandTimeout(cmd)
			defer cancel()

			s, err := a.openStores(ctx, a)
			if err != nil {
				return err
			}
			defer s.close(a.logger)

			roles, err := s.profiles.ListRoles(ctx, args[0])
			if err != nil {
				return err
			}
			for _, r := range roles {
				if _, err = fmt.Fprintln(a.out, r); err != nil {
					return err
				}
			}
			return nil
		},
	})

	var actor string
	set := &cobra.Command{
		Use:   "set USER_ID [ROLE...]",
		Short: "Replace a user's roles; no roles clears them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roles, err := parseRoles(args[1:])
			if err != nil {
				return err
			}

			ctx, cancel := withCommandTimeout(cmd)
			defer cancel()

			s, err := a.openStores(ctx, a)
			if err != nil {
				return err
			}
			defer s.close(a.logger)

			if err = s.profiles.SetRoles(ctx, args[0], roles); err != nil {
				return err
			}
			names := make([]string, 0, len(roles))
			for _, r := range roles {
				names = append(names, string(r))
			}
			if err = s.audit.Record(ctx, ports.AuditEntry{
				ActorID: actor,
				Action:  auditActionRolesSet,
				Target:  args[0],
				Details: map[string]any{"roles": names},
			}); err != nil {
				a.logger.Warn("record role audit failed", "error", err)
			}
			a.logger.Info("roles updated", "user_id", args[0], "roles", names)
			return nil
		},
	}
	set.Flags().StringVar(&actor, "actor", "portal-admin", "actor recorded in the audit log")
	cmd.AddCommand(set)
	return cmd
}
