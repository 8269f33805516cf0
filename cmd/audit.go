package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/frahmantamala/payout-engine/internal"
	"github.com/frahmantamala/payout-engine/internal/audit"
	"github.com/frahmantamala/payout-engine/internal/auth"
	auditmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/audit"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit [entity-type] [entity-id]",
	Short: "Print the audit trail of an entity",
	Long:  `Print the audit events of a BATCH, PAYMENT, RETRY or SUBSCRIPTION, oldest first.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id int64
		if _, err := fmt.Sscan(args[1], &id); err != nil {
			return fmt.Errorf("invalid entity id %q", args[1])
		}
		return printAuditTrail(cmd.Context(), auditmodel.EntityType(strings.ToUpper(args[0])), id)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin access token",
	Long:  `Mint a signed access token carrying the admin permission, for local use against the API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		tokens := auth.NewJWTTokenService(cfg.Security.JWTSecret, cfg.Security.AccessTokenDuration)
		token, err := tokens.GenerateAccessToken(internal.Actor{
			ID:          tokenUserID,
			Email:       tokenEmail,
			Permissions: []string{auth.PermissionAdmin},
		})
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

var (
	tokenUserID int64
	tokenEmail  string
)

func printAuditTrail(ctx context.Context, entityType auditmodel.EntityType, id int64) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps, err := initializeDependencies()
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		deps.Close(shutdownCtx)
	}()

	trail, err := deps.Audit.Trail(ctx, entityType, id)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(audit.ToResponses(trail))
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenUserID, "user-id", 1, "admin user id carried in the token")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "admin@example.com", "admin email carried in the token")

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(tokenCmd)
}
