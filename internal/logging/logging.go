// Package logging builds the root structured logger shared by every
// laned component, in the same shape as the teacher's linksrus services.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// appSha is populated at link time (-ldflags "-X ...appSha=$(git rev-parse
// HEAD)"); it defaults to a sentinel so local builds still log something
// useful.
var appSha = "populated-at-link-time"

// New returns a logger tagged with the binary name, build sha and
// hostname, as every service in the teacher's monolith does. verbose
// lowers the level to Debug; json switches to the JSON formatter used by
// the teacher's textindexer service for log-shipping friendliness.
func New(appName string, verbose, json bool) *logrus.Entry {
	host, _ := os.Hostname()

	root := logrus.New()
	if json {
		root.SetFormatter(new(logrus.JSONFormatter))
	}
	if verbose {
		root.SetLevel(logrus.DebugLevel)
	}

	return root.WithFields(logrus.Fields{
		"app":  appName,
		"sha":  appSha,
		"host": host,
	})
}
