// Package rudplog adapts the engine's structured events onto
// github.com/sirupsen/logrus, preserving the teacher's package-level
// singleton-logger shape (SetLevel, Info/Warn/Error/...) while swapping
// hand-rolled ANSI formatting for logrus's structured fields.
package rudplog

import (
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/packetflow/rudp/event"
)

var base = logrus.New()

func init() {
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	base.SetLevel(logrus.InfoLevel)
}

// SetLevel sets the minimum level the default logger emits.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// Debugf, Infof, Warnf and Errorf mirror the teacher's free-function
// logging API, backed by logrus instead of fmt.Sprintf + log.Println.
func Debugf(format string, args ...interface{}) { base.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { base.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { base.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { base.Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { base.Fatalf(format, args...) }

// Successf logs at Info level tagged with a "success" field, preserving
// the teacher's distinct Success severity without inventing a level
// logrus doesn't have.
func Successf(format string, args ...interface{}) {
	base.WithField("success", true).Infof(format, args...)
}

// Section prints a section banner the way the teacher's
// logger.Section did, kept as plain stdout output rather than a log
// line since it's presentation, not a structured event.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	os.Stdout.WriteString("\n╔" + border + "╗\n")
	os.Stdout.WriteString("║ " + title + "\n")
	os.Stdout.WriteString("╚" + border + "╝\n\n")
}

// Banner prints the startup banner, carried over from the teacher's
// logger.Banner for cmd/rudpecho's startup output.
func Banner(title, version string) {
	os.Stdout.WriteString("\n=== " + title + " (v" + version + ") ===\n\n")
}

// WithEngine returns a logrus.Entry tagged with id, so log lines from
// two engines running in the same process (a client and a server side
// by side, as in tests) can be told apart.
func WithEngine(id uuid.UUID) *logrus.Entry {
	return base.WithField("engine", id.String())
}

// Channel returns a logrus.Entry pre-populated with the remote
// addr/port/channel a log line pertains to, so every channel-scoped log
// line carries the same structured fields a metrics label would.
func Channel(key event.Key) *logrus.Entry {
	return base.WithFields(logrus.Fields{
		"addr":    key.Addr,
		"port":    key.Port,
		"channel": key.Channel,
	})
}

// Event logs one engine event at a level appropriate to its kind:
// Disconnected, GotReset and SendReset at Warn, Connected at Info,
// everything else at Debug, matching the teacher's "success/info/warn/error" severity
// banding without the ANSI color coding.
func Event(e event.Event) {
	entry := Channel(e.Channel)
	switch e.Kind {
	case event.Disconnected, event.GotReset, event.SendReset:
		entry.WithField("kind", e.Kind.String()).Warn("channel state change")
	case event.Connected:
		entry.WithField("kind", e.Kind.String()).Info("channel state change")
	default:
		entry.WithField("kind", e.Kind.String()).Debug("channel event")
	}
}
