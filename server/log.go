package server

import "github.com/sirupsen/logrus"

// logger is a thin alias so options.go and the rest of the package depend
// on one name regardless of which logrus construct backs it.
type logger = logrus.FieldLogger

func defaultLogger() logger {
	l := logrus.StandardLogger()
	return l
}
