// Package main provides the CLI entry point for the pushrelay client.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/postalsys/pushrelay/internal/agent"
	"github.com/postalsys/pushrelay/internal/config"
	"github.com/postalsys/pushrelay/internal/crypto"
	"github.com/postalsys/pushrelay/internal/echo"
	"github.com/postalsys/pushrelay/internal/logging"
	"github.com/postalsys/pushrelay/internal/sysinfo"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pushrelay",
		Short: "pushrelay - push subscription client for the relay network",
		Long: `pushrelay keeps a relay connection alive across app lifecycle and
network changes, and answers push subscription proposals with an
end-to-end encrypted response on a topic derived from the proposer's key.`,
		Version: sysinfo.Version,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(topicCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(registerCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the client",
		Long:  "Connect to the relay and keep the connection managed until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
			logger.Debug("configuration loaded", "config", cfg.String())

			a, err := agent.NewWithLogger(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create agent: %w", err)
			}

			if err := a.Start(); err != nil {
				return fmt.Errorf("failed to start agent: %w", err)
			}

			fmt.Printf("Relay:     %s\n", cfg.Relay.URL)
			fmt.Printf("Mode:      %s\n", cfg.Relay.ConnectionMode)
			fmt.Printf("Client ID: %s\n", a.ClientKey().PublicHex())
			if cfg.Health.Enabled {
				fmt.Printf("Health:    %s\n", cfg.Health.Address)
			}
			if cfg.Lifecycle.Signals {
				fmt.Printf("Lifecycle: SIGUSR1 enters background, SIGUSR2 foreground (pid %d)\n", os.Getpid())
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			sig := <-sigCh
			fmt.Printf("\nReceived signal %v, shutting down...\n", sig)

			ctx, cancel := agent.ShutdownContext()
			defer cancel()

			if err := a.StopWithContext(ctx); err != nil {
				fmt.Printf("Shutdown error: %v\n", err)
				return err
			}

			fmt.Println("Client stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (defaults apply when empty)")

	return cmd
}

func topicCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topic <public-key-hex>",
		Short: "Print the topic derived from a public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := crypto.ParsePublicKeyHex(args[0])
			if err != nil {
				return err
			}
			fmt.Println(crypto.DeriveTopic(pub))
			return nil
		},
	}
}

func keygenCmd() *cobra.Command {
	var clientKey bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a key pair",
		Long: `Generate an X25519 key pair and print its public key and topic.
With --client, generate an Ed25519 relay client key seed for relay.client_key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newPrinter()

			if clientKey {
				key, err := crypto.GenerateClientKey()
				if err != nil {
					return err
				}
				defer key.Zero()
				out.title("Relay client key")
				out.field("Client ID", key.PublicHex())
				out.field("Seed", key.SeedHex())
				return nil
			}

			kp, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}
			defer kp.Private.Zero()
			out.title("X25519 key pair")
			out.field("Public key", kp.Public.Hex())
			out.field("Private key", hex.EncodeToString(kp.Private[:]))
			out.field("Topic", crypto.DeriveTopic(kp.Public))
			return nil
		},
	}

	cmd.Flags().BoolVar(&clientKey, "client", false, "Generate a relay client key instead")

	return cmd
}

func registerCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "register <device-token-hex>",
		Short: "Register a device push token with the echo server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			token, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("device token: %w", err)
			}

			svc, err := echo.NewHTTPRegisterService(echo.HTTPConfig{
				BaseURL:   cfg.Echo.URL,
				ProjectID: cfg.EchoProjectID(),
				ClientID:  cfg.Echo.ClientID,
				PushType:  echo.PushType(cfg.Echo.PushType),
				Timeout:   cfg.Echo.Timeout,
			})
			if err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Echo.Timeout)
			defer cancel()

			if err := echo.NewClient(svc, logger).Register(ctx, token); err != nil {
				return fmt.Errorf("register: %w", err)
			}
			newPrinter().title("Device token registered")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	return cmd
}

// printer styles output when stdout is a terminal and prints plain text
// otherwise.
type printer struct {
	styled bool
	head   lipgloss.Style
	label  lipgloss.Style
}

func newPrinter() *printer {
	return &printer{
		styled: term.IsTerminal(int(os.Stdout.Fd())),
		head:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		label:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

func (p *printer) title(s string) {
	if p.styled {
		s = p.head.Render("✓ " + s)
	}
	fmt.Println(s)
}

func (p *printer) field(name, value string) {
	label := fmt.Sprintf("  %-12s", name+":")
	if p.styled {
		label = p.label.Render(label)
	}
	fmt.Printf("%s %s\n", label, value)
}
