package observability

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// SetupLogging sets the global logrus level and formatter. JSON output is
// used in release mode.
func SetupLogging(level string, json bool) {
	log.SetOutput(os.Stdout)
	if json {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Printf("⚠️ Unknown log level %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
