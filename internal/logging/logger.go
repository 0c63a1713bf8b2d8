package logging

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

func init() {
	Log = logrus.New()
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	Log.SetOutput(os.Stdout)
	Log.SetLevel(logrus.InfoLevel)
}

// Configure applies the configured level and format ("json" or "text") to Log.
// Unknown levels keep the current one.
func Configure(level, format string) {
	if level != "" {
		if lvl, err := logrus.ParseLevel(level); err == nil {
			Log.SetLevel(lvl)
		} else {
			Log.Warnf("Unknown log level %q, keeping %s", level, Log.GetLevel())
		}
	}

	if strings.EqualFold(format, "text") {
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
