package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"remotefs/config"
	"remotefs/core"
	"remotefs/protocols"
)

var (
	configFile string
	verbose    bool
)

// app holds the long-lived pieces shared by every command.
type app struct {
	logger    *zap.Logger
	registry  *config.Registry
	keepalive *protocols.Keepalive
	mounts    *core.Mounts
	transfer  *core.TransferManager
}

func newApp(configPath string, logger *zap.Logger) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	registry := config.NewRegistry(cfg.Remotes)
	keepalive := protocols.NewKeepalive(logger)
	prompt := protocols.PromptFunc(promptTerminal)

	// Each file system owns its broker so that destroying one mount leaves
	// the other's sessions alone.
	opts := []core.Option{core.WithLogger(logger)}
	sftpFS := core.NewFileSystem(protocols.NewSFTPDialer(prompt, keepalive, logger), registry, core.NewBroker(logger), opts...)
	ftpFS := core.NewFileSystem(protocols.NewFTPDialer(prompt, keepalive, logger), registry, core.NewBroker(logger), opts...)
	mounts := core.NewMounts(core.LogReporter(logger), sftpFS, ftpFS)

	return &app{
		logger:    logger,
		registry:  registry,
		keepalive: keepalive,
		mounts:    mounts,
		transfer:  core.NewTransferManager(mounts, logger),
	}, nil
}

func (a *app) Close() {
	a.mounts.Destroy()
	a.keepalive.Stop()
	a.logger.Sync()
}

// promptTerminal reads a secret from the terminal without echo.
func promptTerminal(_ context.Context, prompt string) (string, bool) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", false
	}
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", false
	}
	return string(secret), true
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func main() {
	var a *app

	rootCmd := &cobra.Command{
		Use:           "remotefs",
		Short:         "Browse and edit SFTP and FTP remotes through one path syntax",
		Long:          "Paths have the form sftp://<remote>/<path> or ftp://<remote>/<path>, where <remote> names an entry in the config file.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = newApp(configFile, setupLogger(verbose))
			return err
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "remotefs.toml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	appRef := func() *app { return a }
	rootCmd.AddCommand(remotesCmd(appRef), shellCmd(appRef))
	rootCmd.AddCommand(fsCommands(appRef)...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if a != nil {
		a.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
