package logger

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zapcore"

	"github.com/helios-quant/candle-sync/pkg/errors"
)

type LoggerTestSuite struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}

func (suite *LoggerTestSuite) TestDefaultLevelIsInfo() {
	log, err := New("")
	suite.Require().NoError(err)
	suite.Require().NotNil(log.Logger)

	suite.True(log.Core().Enabled(zapcore.InfoLevel))
	suite.False(log.Core().Enabled(zapcore.DebugLevel))
}

func (suite *LoggerTestSuite) TestConfiguredLevel() {
	log, err := New("debug")
	suite.Require().NoError(err)
	suite.True(log.Core().Enabled(zapcore.DebugLevel))

	log, err = New("warn")
	suite.Require().NoError(err)
	suite.False(log.Core().Enabled(zapcore.InfoLevel))
	suite.True(log.Core().Enabled(zapcore.WarnLevel))
}

func (suite *LoggerTestSuite) TestRejectsUnknownLevel() {
	_, err := New("verbose")
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *LoggerTestSuite) TestNamedChild() {
	log, err := New("")
	suite.Require().NoError(err)

	child := log.Named("store")
	suite.NotNil(child.Logger)

	// Logging through the child must not panic.
	child.Info("dataset opened")
}

func (suite *LoggerTestSuite) TestSyncNilInnerLogger() {
	log := &Logger{Logger: nil}
	suite.NoError(log.Sync())
}
