package logging

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestLevelFiltering(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.Debug("debug visible")
	test.That(t, observed.FilterMessage("debug visible").Len(), test.ShouldEqual, 1)

	logger.SetLevel(WARN)
	test.That(t, logger.GetLevel(), test.ShouldEqual, WARN)
	logger.Info("info hidden")
	logger.Warnf("warn %d", 7)
	test.That(t, observed.FilterMessage("info hidden").Len(), test.ShouldEqual, 0)
	test.That(t, observed.FilterMessage("warn 7").Len(), test.ShouldEqual, 1)
	test.That(t, observed.FilterMessage("warn 7").All()[0].Level, test.ShouldEqual, zapcore.WarnLevel)
}

func TestStructuredFields(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.Infow("pose solved", "station", "kijkduin", "error", 0.25)

	entries := observed.FilterMessage("pose solved").All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	fields := entries[0].ContextMap()
	test.That(t, fields["station"], test.ShouldEqual, "kijkduin")
	test.That(t, fields["error"], test.ShouldEqual, 0.25)

	logger.Debugw("unpaired", "lonely")
	fields = observed.FilterMessage("unpaired").All()[0].ContextMap()
	test.That(t, fields["lonely"], test.ShouldEqual, "unpaired log key")
}

func TestSublogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	sub := logger.Sublogger("camera").Sublogger("pnp")
	sub.Error("diverged")

	entries := observed.FilterMessage("diverged").All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "camera.pnp")
}

func TestWriterAppender(t *testing.T) {
	var buf bytes.Buffer
	logger := NewBlankLogger("argus")
	logger.AddAppender(NewWriterAppender(&buf))
	logger.Infof("rectified %s", "cam1")
	test.That(t, logger.Sync(), test.ShouldBeNil)

	parts := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\t")
	test.That(t, parts, test.ShouldHaveLength, 5)
	test.That(t, parts[1], test.ShouldEqual, "INFO")
	test.That(t, parts[2], test.ShouldEqual, "argus")
	test.That(t, parts[3], test.ShouldStartWith, "logging/impl_test.go:")
	test.That(t, parts[4], test.ShouldEqual, "rectified cam1")
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"", INFO},
		{"Warning", WARN},
		{"error", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.out)
	}
	_, err := LevelFromString("verbose")
	test.That(t, err, test.ShouldNotBeNil)
}
