// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched

import (
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// defaultLogger returns the package's default structured logger: JSON
// to stderr, info level. Callers embedding txsched in a larger host
// process should build their own *logrus.Logger and pass it through
// SchedulerConfig.Log instead.
func defaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// newTraceID mints a correlation id for one run-loop lifetime or one
// admitted pipeline event, so multi-line log output for a single
// event can be grepped back together.
func newTraceID() string {
	return uuid.NewString()
}
