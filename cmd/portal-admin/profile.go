package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	domainauth "github.com/youthvoice/portal/internal/domain/auth"
)

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage profile rows",
	}

	var p domainauth.Profile
	upsert := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update a profile by user id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := withCommandTimeout(cmd)
			defer cancel()

			s, err := a.openStores(ctx, a)
			if err != nil {
				return err
			}
			defer s.close(a.logger)

			saved, err := s.profiles.UpsertProfile(ctx, p)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(saved)
		},
	}
	f := upsert.Flags()
	f.StringVar(&p.ID, "id", "", "user id (UUID)")
	f.StringVar(&p.Email, "email", "", "email address")
	f.StringVar(&p.FullName, "name", "", "full name")
	f.StringVar(&p.Region, "region", "", "region")
	f.StringVar(&p.District, "district", "", "district")
	f.StringVar(&p.University, "university", "", "university")
	f.StringVar(&p.AvatarURL, "avatar-url", "", "avatar URL")
	_ = upsert.MarkFlagRequired("id")
	_ = upsert.MarkFlagRequired("email")

	cmd.AddCommand(upsert)
	return cmd
}
