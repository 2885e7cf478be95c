package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	jsoniter "github.com/json-iterator/go"
	"github.com/robertodauria/speedcheck/client"
	"github.com/robertodauria/speedcheck/client/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type cmdOpts struct {
	config *config.ClientConfig
	debug  bool
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func setupLogger(debug bool) error {
	cfg := zap.NewDevelopmentConfig()
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	return nil
}

func newRootCmd() *cobra.Command {
	opts := cmdOpts{config: config.NewDefault()}
	opts.config.BaseURL = envOr("API_BASE_URL", config.DefaultBaseURL)

	root := &cobra.Command{
		Use:           "speedcheck-client",
		Short:         "Measure latency, download and upload against a speedcheck server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogger(opts.debug)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := client.NewWithConfig(opts.config).Measure(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.config.BaseURL, "server", opts.config.BaseURL, "Server base URL (env API_BASE_URL)")
	flags.StringVar(&opts.config.SocketURL, "socket-url", opts.config.SocketURL, "Socket session URL")
	flags.DurationVar(&opts.config.Timeout, "timeout", opts.config.Timeout, "Timeout of each HTTP measurement (0 uses the default)")
	flags.DurationVar(&opts.config.SocketTimeout, "socket-timeout", opts.config.SocketTimeout, "Timeout of a socket session (0 uses the default)")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	root.Flags().IntVar(&opts.config.UploadSize, "upload-size", opts.config.UploadSize, "Upload buffer size in bytes")
	root.Flags().StringVar(&opts.config.LatencyPath, "latency-path", opts.config.LatencyPath, "Path requested to measure latency")

	root.AddCommand(&cobra.Command{
		Use:   "socket",
		Short: "Run a websocket session: ping, upload and download",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := client.NewWithConfig(opts.config).RunSocket(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	})
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
