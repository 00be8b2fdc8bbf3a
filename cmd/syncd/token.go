package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buehnenplan/syncd/internal/auth"
)

var tokenUser string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a sync token for a user",
	Long: `Mint an HS256 sync token for the given user id and print it.

The scanner app sends this token in the X-Sync-Token header alongside the
user's web session cookie; the gateway requires both to name the same
active user.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Auth.TokenSecret == "" {
			return fmt.Errorf("auth.token_secret is not configured")
		}
		tokens, err := auth.NewTokens([]byte(cfg.Auth.TokenSecret), cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		token, err := tokens.Mint(tokenUser)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id the token is minted for")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}
