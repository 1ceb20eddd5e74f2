package cmd

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cmu-db/peloton-sub010/config"
)

var (
	pelotonCmd = &cobra.Command{
		Use:               "peloton",
		Short:             "An in-memory transactional storage engine",
		Long:              "Peloton keeps tables in memory and recovers them from periodic checkpoints.",
		PersistentPreRunE: pelotonPreRun,
		PersistentPostRun: pelotonPostRun,
		SilenceUsage:      true,
	}

	logFile   string
	logLevel  string
	logStderr = false
	logWriter io.WriteCloser

	configFile = "peloton.hcl"
	noConfig   = false

	cfg    *config.Config
	params *config.Params
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	fs := pelotonCmd.PersistentFlags()
	cfg = config.NewConfig(fs)
	params = config.DefineParams(cfg)

	cfg.Var(&logFile, "log_file").
		Usage("`file` to use for logging").
		Option(config.NoUpdate).
		String("peloton.log")
	cfg.Var(&logLevel, "log_level").
		Usage("log level: trace, debug, info, warn, error, fatal, or panic").
		Option(config.NoUpdate).
		String("info")

	fs.BoolVarP(&logStderr, "log-stderr", "s", logStderr, "log to standard error")

	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")
	cfg.SetFlag("set")
}

func Execute() error {
	return pelotonCmd.Execute()
}

func pelotonPreRun(cmd *cobra.Command, args []string) error {
	if configFile != "" && !noConfig {
		err := cfg.Load(configFile, !cmd.Flags().Changed("config-file"))
		if err != nil {
			return fmt.Errorf("peloton: %s", err)
		}
	}
	err := cfg.Env()
	if err != nil {
		return fmt.Errorf("peloton: %s", err)
	}
	err = cfg.Args()
	if err != nil {
		return fmt.Errorf("peloton: %s", err)
	}

	if !logStderr && logFile != "" {
		logWriter, err = os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			logWriter = nil
			return fmt.Errorf("peloton: %s", err)
		}
		log.SetOutput(logWriter)
	}

	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("peloton: %s", err)
	}
	log.SetLevel(ll)

	log.WithField("pid", os.Getpid()).Info("peloton starting")
	return nil
}

func pelotonPostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Info("peloton done")

	if logWriter != nil {
		logWriter.Close()
	}
}
