// Package logging owns the process-wide logrus logger. Components obtain
// a child logger tagged with their name via New.
package logging

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Setter mutates the root logger.
type Setter func(*logrus.Logger) error

var root = struct {
	logger *logrus.Logger
	mutex  *sync.Mutex
}{
	logger: func() *logrus.Logger {
		l := logrus.New()

		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		l.SetLevel(logrus.InfoLevel)

		return l
	}(),
	mutex: &sync.Mutex{},
}

// Logger is the logging surface handed to components.
type Logger interface {
	logrus.FieldLogger
}

// New returns a logger tagged with the given component name.
func New(component string) Logger {
	return root.logger.WithField("component", component)
}

// Set applies setter to the root logger.
func Set(setter Setter) error {
	root.mutex.Lock()
	err := setter(root.logger)
	root.mutex.Unlock()
	return err
}

// Level parses lvl and returns a Setter for it. Unparseable levels fall
// back to debug.
func Level(lvl string) Setter {
	l, err := logrus.ParseLevel(lvl)
	if err != nil {
		root.logger.WithError(err).Errorf("unable to parse provided level %q", lvl)
		l = logrus.DebugLevel
	}
	return func(r *logrus.Logger) error {
		r.SetLevel(l)
		return nil
	}
}

// Output redirects the root logger.
func Output(w io.Writer) Setter {
	return func(r *logrus.Logger) error {
		r.SetOutput(w)
		return nil
	}
}

// JSON switches the root logger to the JSON formatter.
func JSON() Setter {
	return func(r *logrus.Logger) error {
		r.SetFormatter(&logrus.JSONFormatter{})
		return nil
	}
}
