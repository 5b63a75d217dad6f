package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nedpals/davi-nfc-bridge/buildinfo"
	"github.com/nedpals/davi-nfc-bridge/config"
	"github.com/nedpals/davi-nfc-bridge/logging"
	"github.com/nedpals/davi-nfc-bridge/server"
	"github.com/nedpals/davi-nfc-bridge/tls"
)

func newServeCommand() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge server",
		Long: `Start the HTTP and WebSocket server.

Listeners connect to /ws and receive an "nfcTag" event for every tag. Phones
connect to /ws?mode=device or POST to /api/v1/tag to report discovered tags.

Flags override values from the config file.

Examples:
  davi-nfc-bridge serve --port=18080
  davi-nfc-bridge serve --api-secret=mysecret --fallback=none
  davi-nfc-bridge serve --cert-file=cert.pem --key-file=key.pem`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyServeFlags(cmd, cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	flags := serveCmd.Flags()
	flags.String("bind", "", "Address to bind")
	flags.IntP("port", "p", 0, "Port to listen on")
	flags.String("api-secret", "", "Secret required by /ws and the POST endpoints")
	flags.String("cert-file", "", "TLS certificate file")
	flags.String("key-file", "", "TLS key file")
	flags.Bool("no-mdns", false, "Disable mDNS advertisement")
	flags.String("fallback", "", "Recovery for undecodable records: base64 or none")
	flags.String("no-message-text", "", "Event text for tags without an NDEF message")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.Bool("dev", false, "Human-readable development logging")
	return serveCmd
}

// applyServeFlags copies explicitly set flags over cfg and revalidates it.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("bind") {
		cfg.Server.Bind, _ = flags.GetString("bind")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("api-secret") {
		cfg.Server.APISecret, _ = flags.GetString("api-secret")
	}
	if flags.Changed("cert-file") {
		cfg.Server.CertFile, _ = flags.GetString("cert-file")
	}
	if flags.Changed("key-file") {
		cfg.Server.KeyFile, _ = flags.GetString("key-file")
	}
	if noMDNS, _ := flags.GetBool("no-mdns"); noMDNS {
		cfg.Discovery.Enabled = false
	}
	if flags.Changed("fallback") {
		cfg.Decoder.Fallback, _ = flags.GetString("fallback")
	}
	if flags.Changed("no-message-text") {
		cfg.Decoder.NoMessageText, _ = flags.GetString("no-message-text")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if dev, _ := flags.GetBool("dev"); dev {
		cfg.Logging.Development = true
	}
	return cfg.Validate()
}

func runServer(ctx context.Context, cfg *config.Config) error {
	options := append(cfg.Logging.Options(), logging.WithFields(map[string]any{
		"version": buildinfo.FullVersion(),
	}))
	logger, err := logging.New(options...)
	if err != nil {
		return err
	}
	defer logger.Sync()

	recovery, err := cfg.Decoder.Recovery()
	if err != nil {
		return err
	}

	secure := cfg.Server.CertFile != ""
	if secure {
		expiry, err := tls.CheckKeyPair(cfg.Server.CertFile, cfg.Server.KeyFile, time.Now())
		if err != nil {
			return fmt.Errorf("tls: %w", err)
		}
		logger.Info("tls enabled", zap.Time("certificate_expiry", expiry))
	}

	metrics := server.NewMetrics()
	processor := server.NewTagProcessor(server.ProcessorOptions{
		Recovery:      recovery,
		NoMessageText: cfg.Decoder.NoMessageText,
		Logger:        logger.Named("processor"),
		Metrics:       metrics,
	})

	srv := server.New(server.Config{
		Bind:            cfg.Server.Bind,
		Port:            cfg.Server.Port,
		APISecret:       cfg.Server.APISecret,
		CertFile:        cfg.Server.CertFile,
		KeyFile:         cfg.Server.KeyFile,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Discovery: server.DiscoveryConfig{
			Enabled:     cfg.Discovery.Enabled,
			ServiceName: cfg.Discovery.ServiceName,
			ServiceType: cfg.Discovery.ServiceType,
			Domain:      cfg.Discovery.Domain,
		},
		Processor: processor,
		Metrics:   metrics,
		Logger:    logger,
	})

	for _, url := range tls.ListenURLs(cfg.Server.Bind, cfg.Server.Port, secure) {
		logger.Info("listeners can connect", zap.String("url", url))
	}
	if cfg.Server.APISecret != "" {
		logger.Info("API secret required", zap.String("header", server.APISecretHeader))
	}

	return srv.Start(ctx)
}
