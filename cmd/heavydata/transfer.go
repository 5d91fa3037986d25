package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/VanDung-dev/HeavyData-Engine/heavydata"
	"github.com/VanDung-dev/HeavyData-Engine/monitoring"
	"github.com/VanDung-dev/HeavyData-Engine/network"
)

func newServeCommand(g *globals) *cobra.Command {
	cfg := network.DefaultPublisherConfig()
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve PATH...",
		Short: "Publish heavy data files until interrupted",
		Long: `
Publishes every PATH and prints one reference per line. Remote hosts
download a file with "heavydata fetch REF". Authentication is enabled with
HEAVYDATA_AUTH_ENABLED=true; the token is read from HEAVYDATA_AUTH_TOKEN
or generated and logged.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return serve(c.Context(), g, cfg, metricsAddr, args)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.Host, "host", cfg.Host, "interface to bind")
	flags.IntVar(&cfg.Port, "port", cfg.Port, "port to bind, 0 picks a free one")
	flags.StringVar(&cfg.AdvertiseHost, "advertise-host", "", "host written into references, defaults to --host")
	flags.IntVar(&cfg.Workers, "workers", cfg.Workers, "goroutines serving reads")
	flags.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "largest payload of one read reply")
	flags.BoolVar(&cfg.Compress, "compress", cfg.Compress, "allow zstd compressed payloads")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func serve(ctx context.Context, g *globals, cfg network.PublisherConfig, metricsAddr string, paths []string) error {
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics("heavydata", reg)
	if metricsAddr != "" {
		ms := monitoring.NewMetricsServer(metricsAddr, reg)
		ms.StartAsync()
		defer ms.Stop()
		g.logger.Info("metrics server started", "addr", metricsAddr)
	}

	auth := network.NewAuthenticatorFromEnv()
	if auth.IsEnabled() && os.Getenv(network.EnvAuthToken) == "" {
		g.logger.Warn("generated auth token", "token", auth.Token())
	}

	pub := network.NewPublisher(cfg,
		network.WithAuthenticator(auth),
		network.WithLogger(g.logger),
		network.WithMetrics(metrics))
	if err := pub.Start(ctx); err != nil {
		return err
	}
	defer pub.Stop()

	for _, path := range paths {
		ref, err := pub.Register(path)
		if err != nil {
			return fmt.Errorf("publish %s: %w", path, err)
		}
		fmt.Fprintln(g.stdout, ref)
	}

	<-ctx.Done()
	g.logger.Info("shutting down")
	return nil
}

func newFetchCommand(g *globals) *cobra.Command {
	cfg := network.DefaultFetcherConfig()
	var output string
	cmd := &cobra.Command{
		Use:   "fetch REF",
		Short: "Download a published heavy data file",
		Long: `
Downloads the file behind REF to a temporary file, or to --output, and
prints its path.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if cfg.Token == "" {
				cfg.Token = os.Getenv(network.EnvAuthToken)
			}
			return fetch(c.Context(), g, cfg, args[0], output)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&output, "output", "o", "", "destination file")
	flags.StringVar(&cfg.Token, "token", "", "auth token, defaults to HEAVYDATA_AUTH_TOKEN")
	flags.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "payload size asked for per request")
	flags.BoolVar(&cfg.Compress, "compress", cfg.Compress, "ask for zstd compressed payloads")
	flags.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "wait for each reply")
	return cmd
}

func fetch(ctx context.Context, g *globals, cfg network.FetcherConfig, ref, output string) error {
	fetcher := network.NewFetcher(cfg, network.WithLogger(g.logger))
	h, err := heavydata.FromReference(ctx, ref, fetcher, g.handleOptions()...)
	if err != nil {
		return err
	}
	if output != "" {
		c, err := h.Clone(output)
		if err != nil {
			h.Cleanup()
			return err
		}
		if err := h.Cleanup(); err != nil {
			return err
		}
		h = c
	}
	fmt.Fprintln(g.stdout, h.Path())
	return nil
}

func newCloneCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "clone SRC [DST]",
		Short: "Copy a heavy data file",
		Long: `
Copies SRC to DST, or to a new temporary file, and prints the path of the
copy.
`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(c *cobra.Command, args []string) error {
			dst := ""
			if len(args) == 2 {
				dst = args[1]
			}
			h, err := heavydata.New(args[0], g.handleOptions()...).Clone(dst)
			if err != nil {
				return err
			}
			fmt.Fprintln(g.stdout, h.Path())
			return nil
		},
	}
}

func newRepackCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "repack PATH",
		Short: "Compact a heavy data file",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			before, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			start := time.Now()
			h := heavydata.New(args[0], g.handleOptions()...)
			if _, err := h.Open(heavydata.ModeReadWrite); err != nil {
				return err
			}
			if err := h.Close(true); err != nil {
				return err
			}
			after, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(g.stdout, "%s: %d -> %d bytes in %v\n", args[0], before.Size(), after.Size(), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
