// Package logging configures the process-wide structured logger. Every
// component gets its own child logger carrying a "component" field,
// replacing the bracketed "[REPLICATION] ..." prefixes a log.Printf
// based server would use with leveled, queryable fields.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts verbosity for the whole process. The level is info
// unless SetLevel is called.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// For returns a logger tagged with component, e.g. For("coordinator").
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}
