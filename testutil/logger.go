package testutil

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Test packages call SetupLogger from init, before the test flags are parsed,
// so the log is controlled by the environment:
//
//	PELOTON_TEST_LOG_DIR    directory for the log files; the package directory if unset
//	PELOTON_TEST_LOG_LEVEL  trace, debug, info, warn, error, fatal, or panic; default debug
//	PELOTON_TEST_LOG_STDERR log to standard error if set
const (
	logDirEnv    = "PELOTON_TEST_LOG_DIR"
	logLevelEnv  = "PELOTON_TEST_LOG_LEVEL"
	logStderrEnv = "PELOTON_TEST_LOG_STDERR"
)

// SetupLogger sends the log of a package's tests to file, named like
// "catalog_test.log", truncating it so that each run starts clean.
func SetupLogger(file string) *log.Logger {
	if _, ok := os.LookupEnv(logStderrEnv); !ok {
		if dir := os.Getenv(logDirEnv); dir != "" {
			file = filepath.Join(dir, file)
		}

		w, err := os.OpenFile(file, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			panic(err)
		}
		log.SetOutput(w)
	}
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	level := os.Getenv(logLevelEnv)
	if level == "" {
		level = "debug"
	}
	ll, err := log.ParseLevel(level)
	if err != nil {
		panic(err)
	}
	log.SetLevel(ll)

	log.WithField("pid", os.Getpid()).Info("peloton tests starting")
	return log.StandardLogger()
}
