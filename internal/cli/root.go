package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/deferq/internal/logging"
)

// EnvPrefix prefixes environment variables that override flags,
// e.g. DEFERQ_FORMAT=json or DEFERQ_LOG_LEVEL=debug.
const EnvPrefix = "DEFERQ"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	LogFormat  string // see logging.Formats
	LogLevel   string
	Dev        bool
	ConfigFile string

	// FS is used to read scenario files. Defaults to the OS filesystem.
	FS afero.Fs

	// Logger is built from the logging flags before any command runs.
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the deferq CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "deferq",
		Short: "deferq - deferred invocation scheduler",
		Long: `Run callbacks at or after absolute deadlines on a single serial executor.

The CLI drives the scheduler with scripted scenarios, inspects the lifecycle
journal, and stress-tests the scheduler against the real monotonic clock.

Flags can also be set in a YAML config file (--config) or through
environment variables prefixed with DEFERQ_ (e.g. DEFERQ_LOG_LEVEL=debug).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.configure(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.LogFormat, "log-format", string(logging.FormatConsole), "log format (console|dev|json|none)")
	pf.StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug|info|warn|error)")
	pf.BoolVar(&opts.Dev, "dev", false, "developer logging (same as --log-format dev --log-level debug)")
	pf.StringVar(&opts.ConfigFile, "config", "", "configuration file (yaml)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewJournalCommand(opts))
	cmd.AddCommand(NewStressCommand(opts))

	return cmd
}

// configure merges config file and environment values into unset flags,
// validates global options, and builds the logger.
func (opts *RootOptions) configure(cmd *cobra.Command) error {
	v := viper.New()
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return WrapExitError(ExitCommandError, "failed to read config file", err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := bindFlags(cmd.Flags(), v); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	if !slices.Contains(ValidFormats, opts.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
	}

	logger, err := opts.buildLogger(cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid logging configuration", err)
	}
	opts.Logger = logger
	slog.SetDefault(logger)

	return nil
}

// bindFlags copies config and environment values into flags the user did
// not set on the command line. Command-line flags win over environment,
// environment over config file, config file over defaults.
func bindFlags(flags *pflag.FlagSet, v *viper.Viper) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := flags.Set(f.Name, v.GetString(f.Name)); err != nil {
			errs = append(errs, fmt.Errorf("--%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

func (opts *RootOptions) buildLogger(w io.Writer) (*slog.Logger, error) {
	format := logging.Format(opts.LogFormat)
	levelName := opts.LogLevel
	if opts.Dev {
		format = logging.FormatDev
		levelName = "debug"
	}
	if opts.Verbose && levelName == "warn" {
		levelName = "info"
	}

	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Options{Format: format, Level: level, Out: w})
}

// logger returns the configured logger, or a noop logger when a command
// runs without the root command (tests).
func (opts *RootOptions) logger() *slog.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	return logging.Noop
}

func (opts *RootOptions) fs() afero.Fs {
	if opts.FS != nil {
		return opts.FS
	}
	return afero.NewOsFs()
}

func (opts *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}
