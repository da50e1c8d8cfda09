package task

import (
	"context"
	"time"

	"github.com/crowdfundme/crowdfund-server/internal/logger"
	"github.com/crowdfundme/crowdfund-server/internal/model"
	"github.com/crowdfundme/crowdfund-server/internal/repository"
	"github.com/go-co-op/gocron/v2"
)

// Completer 重新评估活动是否可以完成
type Completer interface {
	RecheckCompletion(ctx context.Context, campaignID string) (*model.CampaignModel, error)
}

// CompletionRecheckJob 处理募集额已达标但完成检查失败的活动
type CompletionRecheckJob struct {
	campaigns repository.CampaignRepository
	completer Completer
	interval  time.Duration
}

// NewCompletionRecheckJob 创建达标复查任务
func NewCompletionRecheckJob(campaigns repository.CampaignRepository, completer Completer, interval time.Duration) *CompletionRecheckJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CompletionRecheckJob{campaigns: campaigns, completer: completer, interval: interval}
}

// GetName 获取任务名称
func (j *CompletionRecheckJob) GetName() string {
	return "completion_recheck"
}

// GetSchedule 获取调度配置
func (j *CompletionRecheckJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Execute 执行任务
func (j *CompletionRecheckJob) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()

	campaigns, err := j.campaigns.ListReachedTarget(ctx)
	if err != nil {
		logger.Error("Failed to fetch campaigns pending completion: %v", err)
		return
	}

	completed := 0
	for _, c := range campaigns {
		got, err := j.completer.RecheckCompletion(ctx, c.Id)
		if err != nil {
			logger.Warn("Campaign %s still not completable: %v", c.Id, err)
			continue
		}
		if got.IsCompleted() {
			completed++
		}
	}
	if completed > 0 {
		logger.Info("Completion recheck task completed: %d of %d campaigns completed", completed, len(campaigns))
	}
}
