package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"
	"go.uber.org/automaxprocs/maxprocs"

	"tdx-data/internal/app"
	"tdx-data/internal/slogx"
)

func init() {
	slog.SetDefault(slogx.New("info", "text"))
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		slog.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		slog.Warn("could not set GOMAXPROCS", "error", err)
	}

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&ingestCmd{}, "")
	commander.Register(&inspectCmd{}, "")
	commander.Register(&stateCmd{}, "")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// configFlags are the config overrides shared by every command.
type configFlags struct {
	path     string
	storeDir string
	cacheDir string
}

func (c *configFlags) register(f *flag.FlagSet) {
	f.StringVar(&c.path, "config", "", "YAML config file (default $CONFIG_FILE)")
	f.StringVar(&c.storeDir, "store", "", "series store directory")
	f.StringVar(&c.cacheDir, "cache-dir", "", "cache directory for state and error records")
}

// load applies defaults, file, environment, then these flags and anything
// extra sets, and validates the result.
func (c *configFlags) load(extra func(*app.Config)) (*app.Config, error) {
	cfg, err := app.LoadConfig(c.path)
	if err != nil {
		return nil, err
	}
	if c.storeDir != "" {
		cfg.StoreDir = c.storeDir
	}
	if c.cacheDir != "" {
		cfg.CacheDir = c.cacheDir
	}
	if extra != nil {
		extra(cfg)
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setup(c *configFlags, extra func(*app.Config)) (*app.Runner, error) {
	cfg, err := c.load(extra)
	if err != nil {
		return nil, err
	}
	r, err := InitializeRunner(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(r.Logger)
	return r, nil
}
