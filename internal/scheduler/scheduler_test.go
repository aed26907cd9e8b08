package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/helios-quant/candle-sync/internal/logger"
	"github.com/helios-quant/candle-sync/internal/server"
	"github.com/helios-quant/candle-sync/internal/types"
)

type recordingUpdater struct {
	mu     sync.Mutex
	synced []string
	status types.SyncStatus
}

func (r *recordingUpdater) Sync(ctx context.Context, symbol string, interval types.Interval) types.SyncReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.synced = append(r.synced, symbol+"_"+interval.String())

	return types.SyncReport{Symbol: symbol, Interval: interval, Status: r.status}
}

type SchedulerTestSuite struct {
	suite.Suite

	updater *recordingUpdater
	log     *logger.Logger
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

func (suite *SchedulerTestSuite) SetupTest() {
	suite.updater = &recordingUpdater{status: types.SyncStatusUpdated}

	log, err := logger.NewLogger()
	suite.Require().NoError(err)
	suite.log = log
}

func (suite *SchedulerTestSuite) newScheduler() *Scheduler {
	pairs := []server.Pair{
		{Symbol: "BTCUSDT", Interval: types.IntervalOneHour},
		{Symbol: "ETHUSDT", Interval: types.IntervalFourHours},
	}

	return New(context.Background(), suite.updater, pairs, suite.log)
}

func (suite *SchedulerTestSuite) TestRunNowSyncsAllPairs() {
	s := suite.newScheduler()

	reports := s.RunNow()
	suite.Require().Len(reports, 2)
	suite.Equal([]string{"BTCUSDT_1h", "ETHUSDT_4h"}, suite.updater.synced)

	for _, report := range reports {
		suite.Equal(types.SyncStatusUpdated, report.Status)
	}
}

func (suite *SchedulerTestSuite) TestRunNowReportsFailures() {
	suite.updater.status = types.SyncStatusFailed

	reports := suite.newScheduler().RunNow()
	suite.Require().Len(reports, 2)
	suite.Equal(types.SyncStatusFailed, reports[0].Status)
}

func (suite *SchedulerTestSuite) TestRegisterDefaultSpec() {
	s := suite.newScheduler()
	suite.NoError(s.Register(""))
}

func (suite *SchedulerTestSuite) TestRegisterInvalidSpec() {
	s := suite.newScheduler()
	suite.Error(s.Register("not a cron spec"))
}

func (suite *SchedulerTestSuite) TestStartStop() {
	s := suite.newScheduler()
	suite.Require().NoError(s.Register("@hourly"))

	s.Start()
	s.Stop()

	// No scheduled run should have fired within the test window.
	suite.Empty(suite.updater.synced)
}
