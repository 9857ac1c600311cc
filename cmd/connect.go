package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/londonzade-stack/agent-seller-sub000/internal/gmail"
	"github.com/londonzade-stack/agent-seller-sub000/internal/vault"
)

// ConnectConfig configures the connect command.
type ConnectConfig struct {
	Debug       bool
	OwnerID     string
	Code        string
	RedirectURL string
	Vault       VaultConfig
}

func newConnectCmd() *cobra.Command {
	var cfg ConnectConfig

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect a Google mailbox",
		Long: `Authorize access to a Google mailbox and store the resulting tokens as a
connection in the configured store.

Visit the printed URL, approve access, and paste the authorization code.
The connection ID printed at the end is what serve, agent and cleanup take
as --connection. Connecting the same owner again replaces the stored tokens.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loadVaultEnvVars(cmd, &cfg.Vault)
			return runConnect(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&cfg.OwnerID, "owner", "", "Owner ID for the connection (default: the mailbox address)")
	cmd.Flags().StringVar(&cfg.Code, "code", "", "Authorization code, skips the interactive prompt")
	cmd.Flags().StringVar(&cfg.RedirectURL, "redirect-url", "", "OAuth redirect URL registered for the client (default: out-of-band)")
	addVaultFlags(cmd, &cfg.Vault)
	return cmd
}

func runConnect(ctx context.Context, cfg ConnectConfig, in io.Reader, out io.Writer) error {
	if cfg.Vault.GoogleClientID == "" || cfg.Vault.GoogleClientSecret == "" {
		return errors.New("--google-client-id and --google-client-secret (or GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET) are required")
	}
	logger := newLogger(cfg.Debug)

	oauthCfg := vault.GoogleOAuthConfig(cfg.Vault.GoogleClientID, cfg.Vault.GoogleClientSecret, cfg.RedirectURL)
	code := cfg.Code
	if code == "" {
		state := uuid.NewString()
		fmt.Fprintf(out, "Visit this URL to authorize access:\n\n%s\n\nPaste the authorization code: ",
			oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce))
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read authorization code: %w", err)
		}
		code = strings.TrimSpace(line)
	}
	if code == "" {
		return errors.New("authorization code is empty")
	}

	tok, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	owner := cfg.OwnerID
	if owner == "" {
		client, err := gmail.New(ctx, oauthCfg.Client(ctx, tok), gmail.Options{Logger: logger})
		if err != nil {
			return err
		}
		profile, err := client.GetProfile(ctx)
		if err != nil {
			return fmt.Errorf("failed to read mailbox profile: %w", err)
		}
		owner = profile.EmailAddress
	}

	v, store, err := openVault(ctx, cfg.Vault, logger, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	conn, err := v.Connect(ctx, owner, vault.ProviderGoogle, tok)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nConnected %s\nConnection ID: %s\n", owner, conn.ID)
	return nil
}
