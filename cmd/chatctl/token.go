package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/suPer8Hu/rental-chat/internal/auth"
	"github.com/suPer8Hu/rental-chat/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		userID uint64
		role   string
		secret string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development JWT",
		Long:  "Signs a token with JWT_SECRET (or --secret) for the given user and role. Intended for local testing only.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return errors.New("--user is required")
			}
			if role != auth.RoleUser && role != auth.RoleAdmin {
				return errors.Errorf("unknown role %q", role)
			}
			if secret == "" {
				secret = config.Load().JWTSecret
			}
			tok, err := auth.SignJWT(userID, role, secret, ttl)
			if err != nil {
				return errors.Wrap(err, "sign token")
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&userID, "user", 0, "user id to embed in the token")
	cmd.Flags().StringVar(&role, "role", auth.RoleUser, "user or admin")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
