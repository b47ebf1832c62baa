package diffd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btclog/v2"
	flags "github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/diffd/build"
	"github.com/lightningnetwork/diffd/diffcfg"
)

const (
	defaultLogLevel = "info"
)

var (
	// DefaultDiffdDir is the default directory where diffd tries to find
	// its configuration file and store its logs.
	DefaultDiffdDir = btcutil.AppDataDir("diffd", false)

	// DefaultConfigFile is the default full path of diffd's configuration
	// file.
	DefaultConfigFile = filepath.Join(
		DefaultDiffdDir, diffcfg.DefaultConfigFilename,
	)

	defaultLogDir = filepath.Join(DefaultDiffdDir, diffcfg.DefaultLogDirname)
)

// Config defines the configuration options for diffd.
//
// See LoadConfig for further details regarding the configuration loading+
// parsing process.
//
//nolint:ll
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	DiffdDir   string `long:"diffddir" description:"The base directory that contains diffd's config file and logs."`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	LogDir     string `long:"logdir" description:"Directory to log output."`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	Esplora *diffcfg.Esplora `group:"esplora" namespace:"esplora"`

	Sync *diffcfg.Sync `group:"sync" namespace:"sync"`

	Workers *diffcfg.Workers `group:"workers" namespace:"workers"`

	Retry *diffcfg.Retry `group:"retry" namespace:"retry"`

	HTTP *diffcfg.HTTP `group:"http" namespace:"http"`

	HealthChecks *diffcfg.HealthCheckConfig `group:"healthcheck" namespace:"healthcheck"`

	LogConfig *build.LogConfig `group:"logging" namespace:"logging"`

	// SubLogMgr is the root logger that all the daemon's subloggers are
	// hooked up to.
	SubLogMgr *build.SubLoggerManager

	// LogRotator writes the log file. It must be closed on shutdown.
	LogRotator *build.RotatingLogWriter
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		DiffdDir:     DefaultDiffdDir,
		ConfigFile:   DefaultConfigFile,
		LogDir:       defaultLogDir,
		DebugLevel:   defaultLogLevel,
		Esplora:      diffcfg.DefaultEsploraConfig(),
		Sync:         diffcfg.DefaultSyncConfig(),
		Workers:      diffcfg.DefaultWorkersConfig(),
		Retry:        diffcfg.DefaultRetryConfig(),
		HTTP:         diffcfg.DefaultHTTPConfig(),
		HealthChecks: diffcfg.DefaultHealthCheckConfig(),
		LogConfig:    build.DefaultLogConfig(),
		LogRotator:   build.NewRotatingLogWriter(),
	}
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig() (*Config, error) {
	return loadConfig(os.Args[1:])
}

// loadConfig runs LoadConfig against the given command line arguments.
func loadConfig(args []string) (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.NewParser(&preCfg, flags.Default).ParseArgs(
		args,
	); err != nil {
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", build.Version(),
			"commit="+build.Commit)
		os.Exit(0)
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their diffddir, then we should assume they intend to use
	// the config file within it.
	configFileDir := CleanAndExpandPath(preCfg.DiffdDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultDiffdDir {
		if configFilePath == DefaultConfigFile {
			configFilePath = filepath.Join(
				configFileDir, diffcfg.DefaultConfigFilename,
			)
		}
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.NewParser(&cfg, flags.Default).ParseArgs(
		args,
	); err != nil {
		return nil, err
	}

	// Make sure everything we just loaded makes sense.
	cleanCfg, err := ValidateConfig(cfg, usageMessage)
	if err != nil {
		return nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid
	// options. Note this should go directly before the return.
	if configFileError != nil {
		dfdLog.Warnf("%v", configFileError)
	}

	return cleanCfg, nil
}

// ValidateConfig check the given configuration to be sane. This makes sure no
// illegal values or combination of values are set. All file system paths are
// normalized. Logging is set up as a side effect. The cleaned up config is
// returned on success.
func ValidateConfig(cfg Config, usageMessage string) (*Config, error) {
	// If the provided diffd directory is not the default, we'll modify
	// the path to the log directory that lives within it.
	diffdDir := CleanAndExpandPath(cfg.DiffdDir)
	if diffdDir != DefaultDiffdDir && cfg.LogDir == defaultLogDir {
		cfg.LogDir = filepath.Join(diffdDir, diffcfg.DefaultLogDirname)
	}
	cfg.DiffdDir = diffdDir
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)

	// mkErr wraps a validation failure with the usage hint.
	mkErr := func(err error) error {
		_, _ = fmt.Fprintln(os.Stderr, usageMessage)
		return fmt.Errorf("loadConfig: %w", err)
	}

	err := diffcfg.Validate(
		cfg.Esplora,
		cfg.Sync,
		cfg.Workers,
		cfg.Retry,
		cfg.HTTP,
		cfg.HealthChecks,
		cfg.LogConfig,
	)
	if err != nil {
		return nil, mkErr(err)
	}

	if cfg.LogRotator == nil {
		cfg.LogRotator = build.NewRotatingLogWriter()
	}

	// Open the log file first so that the root logger writes to it from
	// the start.
	if !cfg.LogConfig.File.Disable {
		err := cfg.LogRotator.InitLogRotator(
			cfg.LogConfig.File,
			filepath.Join(cfg.LogDir, diffcfg.DefaultLogFilename),
		)
		if err != nil {
			return nil, mkErr(err)
		}
	}

	cfg.SubLogMgr = build.NewSubLoggerManager(newLogHandler(&cfg))
	SetupLoggers(cfg.SubLogMgr)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			cfg.SubLogMgr.SupportedSubsystems())
		os.Exit(0)
	}

	// Parse, validate, and set debug log level(s).
	err = build.ParseAndSetDebugLevels(cfg.DebugLevel, cfg.SubLogMgr)
	if err != nil {
		return nil, mkErr(err)
	}

	return &cfg, nil
}

// newLogHandler builds the handler behind every subsystem logger. Lines go to
// stdout and the log file unless either is disabled.
func newLogHandler(cfg *Config) btclog.Handler {
	var (
		console = !cfg.LogConfig.Console.Disable
		file    = !cfg.LogConfig.File.Disable

		w    io.Writer
		opts = cfg.LogConfig.Console.HandlerOptions()
	)
	switch {
	case console && file:
		w = &build.LogWriter{Rotator: cfg.LogRotator}

	case console:
		w = &build.LogWriter{}

	case file:
		w = cfg.LogRotator
		opts = cfg.LogConfig.File.HandlerOptions()

	default:
		w = io.Discard
	}

	return btclog.NewDefaultHandler(w, opts...)
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func CleanAndExpandPath(path string) string {
	return diffcfg.CleanAndExpandPath(path)
}
