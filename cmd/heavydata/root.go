package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/VanDung-dev/HeavyData-Engine/heavydata"
)

const envPrefix = "HEAVYDATA"

// globals holds the persistent flags shared by every command.
type globals struct {
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger

	config    string
	logLevel  string
	group     string
	chunkRows int
	tempDir   string
}

// NewRootCommand builds the command tree writing to stdout and stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{stdout: stdout, stderr: stderr}
	rc := &cobra.Command{
		Use:   Name,
		Short: "Schema-driven hierarchical heavy data files",
		Long: `heavydata stores hierarchical, schema-described records in a single
backing file and moves those files between hosts.

Every option can also be given as an environment variable, HEAVYDATA_
followed by the upper-cased flag name with dashes replaced by underscores,
or in a YAML file passed with --config.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setAllConfig(viper.New(), cmd.Flags()); err != nil {
				return err
			}
			logger, err := newLogger(g.stderr, g.logLevel)
			if err != nil {
				return err
			}
			g.logger = logger
			return nil
		},
	}
	flags := rc.PersistentFlags()
	flags.StringVarP(&g.config, "config", "c", "", "configuration file to read from")
	flags.StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVarP(&g.group, "group", "g", "/", "group holding the root table")
	flags.IntVar(&g.chunkRows, "chunk-rows", heavydata.DefaultConfig().ChunkRows, "records per stored chunk of new tables")
	flags.StringVar(&g.tempDir, "temp-dir", "", "directory for temporary files")

	rc.AddCommand(newDemoCommand(g))
	rc.AddCommand(newInspectCommand(g))
	rc.AddCommand(newDocsCommand(g))
	rc.AddCommand(newServeCommand(g))
	rc.AddCommand(newFetchCommand(g))
	rc.AddCommand(newCloneCommand(g))
	rc.AddCommand(newRepackCommand(g))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// handleOptions returns the handle options selected by the global flags.
func (g *globals) handleOptions() []heavydata.Option {
	cfg := heavydata.DefaultConfig()
	if g.chunkRows > 0 {
		cfg.ChunkRows = g.chunkRows
	}
	cfg.TempDir = g.tempDir
	return []heavydata.Option{
		heavydata.WithGroup(g.group),
		heavydata.WithConfig(cfg),
		heavydata.WithLogger(g.logger),
	}
}

// setAllConfig fills every flag not given on the command line from the
// environment or the configuration file, in that order.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file '%s': %w", c, err)
		}
		valid := make(map[string]bool)
		flags.VisitAll(func(f *pflag.Flag) { valid[f.Name] = true })
		for _, key := range v.AllKeys() {
			if !valid[key] {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed || !v.IsSet(f.Name) {
			return
		}
		flagErr = f.Value.Set(v.GetString(f.Name))
	})
	return flagErr
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if d, ok := a.Value.Any().(time.Duration); ok {
				return slog.String(a.Key, d.Round(time.Microsecond).String())
			}
			return a
		},
	})), nil
}
