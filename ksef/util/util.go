package util

import (
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "ksef.util")

func DebugEnabled() bool {
	return etb("KSEF_DEBUG")
}

func HttpTraceEnabled() bool {
	return etb("KSEF_HTTP_TRACE")
}

func etb(envName string) bool {
	v, ok := os.LookupEnv(envName)
	if !ok {
		return false
	}

	bv, err := strconv.ParseBool(v)

	return err == nil && bv
}

// LookupEnv zwraca wartość zmiennej bez białych znaków na brzegach.
func LookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func GetEnv(key, def string) string {
	if v, ok := LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func GetEnvOrFailed(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		logger.Fatal(key, " environment variable is not set")
	}
	return v
}

// ConfigureLogging ustawia poziom logowania na podstawie KSEF_DEBUG.
func ConfigureLogging() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if DebugEnabled() {
		logrus.SetLevel(logrus.DebugLevel)
	}
}
