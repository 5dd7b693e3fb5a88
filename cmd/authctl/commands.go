package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
)

func newSweepCmd(open backend) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, open, func(ctx context.Context, svc *auth.Service) error {
				n, err := svc.SweepExpired(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired sessions\n", n)
				return nil
			})
		},
	}
}

type unlockConfig struct {
	email string
	id    int64
}

func newUnlockCmd(open backend) *cobra.Command {
	cfg := &unlockConfig{}
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Clear the lockout of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, open, func(ctx context.Context, svc *auth.Service) error {
				id := cfg.id
				if cfg.email != "" {
					var err error
					if id, err = svc.UnlockByEmail(ctx, cfg.email); err != nil {
						return err
					}
				} else if err := svc.Unlock(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "unlocked account %d\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cfg.email, "email", "", "account email")
	cmd.Flags().Int64Var(&cfg.id, "id", 0, "account id")
	cmd.MarkFlagsOneRequired("email", "id")
	cmd.MarkFlagsMutuallyExclusive("email", "id")
	return cmd
}

func newRevokeCmd(open backend) *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke every session of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, open, func(ctx context.Context, svc *auth.Service) error {
				n, err := svc.LogoutAll(ctx, userID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %d sessions of user %d\n", n, userID)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "account id")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
