package commands

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/diogo/boltchat/internal/config"
	"github.com/diogo/boltchat/internal/credential"
)

func (c *cli) newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the OpenAI API key",
		Long: `Store, remove or inspect the API key used for completions.

The key is kept in the OS keyring (credential_backend "keyring"). When no key
is stored, OPENAI_API_KEY or EXPO_PUBLIC_OPENAI_API_KEY is used for the
current process. Keys are always shown masked.`,
	}

	cmd.AddCommand(c.newKeySetCmd())
	cmd.AddCommand(c.newKeyClearCmd())
	cmd.AddCommand(c.newKeyStatusCmd())
	return cmd
}

func (c *cli) newKeySetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [key]",
		Short: "Store an API key",
		Long: `Store an API key. Without an argument the key is read from the terminal
without echo, or from stdin when it is piped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := c.readKey(cmd, args)
			if err != nil {
				return err
			}

			store, err := c.credentialBackend()
			if err != nil {
				return err
			}
			if err := store.Set(value); err != nil {
				return fmt.Errorf("failed to store API key: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, successStyle.Render("✓ API key saved: "+credential.Mask(store.Get().Value)))
			if c.cfg.CredentialBackend == config.CredentialMemory && c.deps.Credentials == nil {
				fmt.Fprintln(out, warningStyle.Render(
					"⚠ credential_backend is memory; the key is not kept after this command. "+
						"Use 'boltchat config set credential_backend keyring'."))
			}
			return nil
		},
	}
}

// readKey takes the key from args, the terminal, or piped stdin
func (c *cli) readKey(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}

	if isTerminal(cmd.InOrStdin()) && c.deps.ReadSecret != nil {
		fmt.Fprint(cmd.ErrOrStderr(), "Enter API key: ")
		value, err := c.deps.ReadSecret()
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read API key: %w", err)
		}
		return value, nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && strings.TrimSpace(line) == "" {
		return "", fmt.Errorf("no API key given")
	}
	return line, nil
}

func (c *cli) newKeyClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.credentialBackend()
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return fmt.Errorf("failed to remove API key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("✓ API key removed"))
			return nil
		},
	}
}

func (c *cli) newKeyStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which API key is in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backend: %s\n", c.cfg.CredentialBackend)

			if store, err := c.credentialBackend(); err != nil {
				fmt.Fprintln(out, warningStyle.Render(fmt.Sprintf("⚠ %v", err)))
			} else if cred := store.Get(); cred.Present {
				fmt.Fprintf(out, "Key:     %s (stored)\n", credential.Mask(cred.Value))
				return nil
			}

			if value, source := ambientKey(); value != "" {
				fmt.Fprintf(out, "Key:     %s (%s)\n", credential.Mask(value), source)
				return nil
			}

			fmt.Fprintln(out, "Key:     "+dimStyle.Render("not configured"))
			fmt.Fprintln(out, dimStyle.Render("Run 'boltchat key set' or set OPENAI_API_KEY."))
			return nil
		},
	}
}
