// Package main is the entry point for the garage server.
//
// garage serves a small JSON API over two record collections, users and cars,
// behind a single admin login. Each collection is persisted by a configurable
// backend: in memory, a JSON file, a browser cookie, bolt or SQLite.
// Configuration is read from CLI flags, GARAGE_* environment variables, a
// .env file and config.yaml in the data directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/neizzzy/garage/internal/server/handlers"
)

var rootCmd = &cobra.Command{
	Use:           "garage",
	Short:         "Users and cars behind an admin login",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "garage: %v\n", err)
		os.Exit(1)
	}
}

// initConfig makes every flag readable from GARAGE_<FLAG> too, e.g.
// GARAGE_DATA_DIR.
func initConfig() {
	viper.SetEnvPrefix("garage")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and exit",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		info := getBuildInfo()
		w := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(w, "garage %s\n", info.Version)
		_, _ = fmt.Fprintf(w, "  Go version: %s\n", info.GoVersion)
		_, _ = fmt.Fprintf(w, "  Revision:   %s\n", info.Revision)
		if info.Dirty {
			_, _ = fmt.Fprintf(w, "  Modified:   true\n")
		}
	},
}

// newLogger returns the process logger and its level.
func newLogger(level string) (*slog.Logger, error) {
	ll := &slog.LevelVar{}
	switch level {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info", "":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return nil, fmt.Errorf("unknown log level: %q", level)
	}
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:       ll,
		TimeFormat:  "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:     !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: replaceAttr(underSystemd),
	})), nil
}

func replaceAttr(underSystemd bool) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
			return slog.Attr{}
		}
		if a.Key == "ip" {
			if v := a.Value.String(); v == "127.0.0.1" || v == "::1" {
				return slog.Attr{}
			}
		}
		skip := false
		switch t := a.Value.Any().(type) {
		case string:
			skip = t == ""
		case bool:
			skip = !t
		case int64:
			skip = t == 0
		case uint64:
			skip = t == 0
		case float64:
			skip = t == 0
		case time.Time:
			skip = t.IsZero()
		case time.Duration:
			skip = t == 0
		case nil:
			skip = true
		}
		if skip {
			return slog.Attr{}
		}
		return a
	}
}

func getBuildInfo() handlers.BuildInfo {
	b := handlers.BuildInfo{Version: "unknown", GoVersion: "unknown", Revision: "unknown"}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	b.Version = info.Main.Version
	if b.Version == "" || b.Version == "(devel)" {
		b.Version = "dev"
	}
	b.GoVersion = info.GoVersion
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			b.Revision = s.Value
		case "vcs.modified":
			b.Dirty = s.Value == "true"
		}
	}
	return b
}
