package task

import (
	"context"
	"time"

	"github.com/crowdfundme/crowdfund-server/internal/logger"
	"github.com/crowdfundme/crowdfund-server/internal/model"
	"github.com/crowdfundme/crowdfund-server/internal/repository"
	"github.com/go-co-op/gocron/v2"
)

// Dispatcher 发币流程调度
type Dispatcher interface {
	Dispatch(campaignID string) bool
	InFlight(campaignID string) bool
}

// ResumeSettings 巡检参数
type ResumeSettings struct {
	Interval    time.Duration
	StaleAfter  time.Duration // pending 超过该时间且没有运行中的流程视为中断
	MaxAttempts int           // 失败后自动重试的次数上限
}

// LaunchResumeJob 恢复中断的发币流程并自动重试失败的流程
type LaunchResumeJob struct {
	campaigns  repository.CampaignRepository
	dispatcher Dispatcher
	settings   ResumeSettings
	now        func() time.Time
}

// NewLaunchResumeJob 创建发币巡检任务
func NewLaunchResumeJob(campaigns repository.CampaignRepository, dispatcher Dispatcher, settings ResumeSettings) *LaunchResumeJob {
	if settings.Interval <= 0 {
		settings.Interval = time.Minute
	}
	return &LaunchResumeJob{
		campaigns:  campaigns,
		dispatcher: dispatcher,
		settings:   settings,
		now:        time.Now,
	}
}

// GetName 获取任务名称
func (j *LaunchResumeJob) GetName() string {
	return "launch_resume"
}

// GetSchedule 获取调度配置
func (j *LaunchResumeJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.settings.Interval)
}

// Execute 执行任务
func (j *LaunchResumeJob) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), j.settings.Interval)
	defer cancel()

	resumed := j.resumePending(ctx)
	retried := j.retryFailed(ctx)
	if resumed > 0 || retried > 0 {
		logger.Info("Launch resume task completed: %d resumed, %d retried", resumed, retried)
	}
}

func (j *LaunchResumeJob) resumePending(ctx context.Context) int {
	campaigns, err := j.campaigns.ListByLaunchStatus(ctx, model.LaunchStatusPending)
	if err != nil {
		logger.Error("Failed to fetch pending launches: %v", err)
		return 0
	}

	count := 0
	for _, c := range campaigns {
		if c.IsLaunched() || j.dispatcher.InFlight(c.Id) {
			continue
		}
		if c.LaunchStartedAt != nil && j.now().Sub(*c.LaunchStartedAt) < j.settings.StaleAfter {
			continue
		}
		logger.Warn("Resuming interrupted launch for campaign %s (attempts: %d)", c.Id, c.LaunchAttempts)
		if j.dispatcher.Dispatch(c.Id) {
			count++
		}
	}
	return count
}

func (j *LaunchResumeJob) retryFailed(ctx context.Context) int {
	if j.settings.MaxAttempts <= 0 {
		return 0
	}
	campaigns, err := j.campaigns.ListByLaunchStatus(ctx, model.LaunchStatusFailed)
	if err != nil {
		logger.Error("Failed to fetch failed launches: %v", err)
		return 0
	}

	count := 0
	for _, c := range campaigns {
		if !c.CanEnterLaunch() || c.LaunchAttempts >= j.settings.MaxAttempts || j.dispatcher.InFlight(c.Id) {
			continue
		}
		ok, err := j.campaigns.EnterPending(ctx, c.Id, j.now())
		if err != nil {
			logger.Error("Failed to re-enter launch for campaign %s: %v", c.Id, err)
			continue
		}
		if !ok {
			continue
		}
		errMsg := ""
		if c.LaunchError != nil {
			errMsg = *c.LaunchError
		}
		logger.Info("Retrying launch for campaign %s (attempt %d/%d, last error: %s)",
			c.Id, c.LaunchAttempts+1, j.settings.MaxAttempts, errMsg)
		if j.dispatcher.Dispatch(c.Id) {
			count++
		}
	}
	return count
}
