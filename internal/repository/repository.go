package repository

import (
	"context"
	"errors"
	"time"

	"github.com/crowdfundme/crowdfund-server/internal/model"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 唯一键冲突
	ErrDuplicate = errors.New("duplicate record")
)

// Fields 部分更新，键为列名
type Fields map[string]interface{}

// CampaignRepository 活动存储
type CampaignRepository interface {
	Create(ctx context.Context, c *model.CampaignModel) error
	Get(ctx context.Context, id string) (*model.CampaignModel, error)
	FeeSignatureUsed(ctx context.Context, sig string) (bool, error)
	Update(ctx context.Context, id string, fields Fields) error

	// MarkCompleted 仅当活动仍为 active 时置为 completed，返回是否由本次调用完成
	MarkCompleted(ctx context.Context, id string, fields Fields) (bool, error)
	// EnterPending 仅当活动已完成、未发币且发币状态为空或失败时进入 pending
	EnterPending(ctx context.Context, id string, now time.Time) (bool, error)
	// BeginAttempt 记录一次发币尝试
	BeginAttempt(ctx context.Context, id string, now time.Time) error

	ListByLaunchStatus(ctx context.Context, status model.LaunchStatus) ([]model.CampaignModel, error)
	// ListReachedTarget 已记录的募集额达到目标但仍为 active 的活动
	ListReachedTarget(ctx context.Context) ([]model.CampaignModel, error)
}

// ContributorRepository 贡献者及贡献记录存储
type ContributorRepository interface {
	Register(ctx context.Context, address string) (*model.ContributorModel, error)
	Get(ctx context.Context, address string) (*model.ContributorModel, error)
	SignatureUsed(ctx context.Context, sig string) (bool, error)
	// AddContribution 写入贡献记录并累加贡献者总额，签名重复返回 ErrDuplicate
	AddContribution(ctx context.Context, c *model.ContributionModel) error
	ListContributions(ctx context.Context, address string) ([]model.ContributionModel, error)
}

// Store 所有存储
type Store struct {
	Campaigns    CampaignRepository
	Contributors ContributorRepository
	close        func() error
}

// Close 释放底层连接
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func enterPendingFields(now time.Time) Fields {
	return Fields{
		"launch_status":     model.LaunchStatusPending,
		"launch_error":      nil,
		"launch_started_at": &now,
	}
}
