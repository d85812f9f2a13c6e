// Command felixctl inspects bundle manifests: it parses them, selects
// native code for a platform and resolves the wiring between bundles.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/bayleafwalker/felix-core/internal/config"
	"github.com/bayleafwalker/felix-core/internal/manifest"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	log    logr.Logger
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{log: logr.Discard()}
	root := &cobra.Command{
		Use:          "felixctl",
		Short:        "Inspect OSGi bundle manifests, native code and wiring",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "felix.yaml", "path to the framework configuration")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(a.manifestCmd(), a.nativeCmd(), a.resolveCmd(), a.configCmd())
	return root
}

func (a *app) setup(stderr io.Writer) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration %s: %w", a.configPath, err)
	}
	a.cfg = cfg

	zc := zap.NewProductionConfig()
	if cfg.Logging.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level := zapcore.InfoLevel
	if cfg.Logging.Level != "" {
		if level, err = zapcore.ParseLevel(cfg.Logging.Level); err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
	}
	if a.verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build(zap.ErrorOutput(zapcore.AddSync(stderr)))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	a.log = zapr.NewLogger(logger)
	return nil
}

func readHeaders(path string) (manifest.Headers, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	headers, err := manifest.Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return headers, nil
}

// readManifest reads and parses the manifest at path.
func (a *app) readManifest(path string) (*manifest.Manifest, error) {
	headers, err := readHeaders(path)
	if err != nil {
		return nil, err
	}
	m, err := manifest.NewParser(a.log.WithName("manifest")).Parse(nil, headers)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
