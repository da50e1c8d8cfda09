package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crowdfundme/crowdfund-server/internal/config"
	"github.com/crowdfundme/crowdfund-server/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Open 根据配置选择存储实现
func Open(cfg config.DatabaseConfig) (*Store, error) {
	if cfg.Driver == "memory" {
		return NewMemory(), nil
	}
	db, err := Init(cfg)
	if err != nil {
		return nil, err
	}
	return NewGorm(db), nil
}

func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 禁用 GORM 的默认日志输出
		NamingStrategy: &schema.NamingStrategy{
			SingularTable: true, // 禁用复数表名
		},
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 自动迁移
	if err := db.AutoMigrate(
		&model.CampaignModel{},
		&model.ContributorModel{},
		&model.ContributionModel{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// NewGorm 基于 gorm 的存储
func NewGorm(db *gorm.DB) *Store {
	return &Store{
		Campaigns:    &gormCampaigns{db: db},
		Contributors: &gormContributors{db: db},
		close: func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}

type gormCampaigns struct {
	db *gorm.DB
}

func (r *gormCampaigns) Create(ctx context.Context, c *model.CampaignModel) error {
	return translate(r.db.WithContext(ctx).Create(c).Error)
}

func (r *gormCampaigns) Get(ctx context.Context, id string) (*model.CampaignModel, error) {
	var c model.CampaignModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (r *gormCampaigns) FeeSignatureUsed(ctx context.Context, sig string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.CampaignModel{}).Where("fee_tx_signature = ?", sig).Count(&count).Error
	return count > 0, err
}

func (r *gormCampaigns) Update(ctx context.Context, id string, fields Fields) error {
	res := r.db.WithContext(ctx).Model(&model.CampaignModel{}).Where("id = ?", id).Updates(map[string]interface{}(fields))
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormCampaigns) MarkCompleted(ctx context.Context, id string, fields Fields) (bool, error) {
	updates := map[string]interface{}{"status": model.CampaignStatusCompleted}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&model.CampaignModel{}).
		Where("id = ? AND status = ?", id, model.CampaignStatusActive).
		Updates(updates)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormCampaigns) EnterPending(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.CampaignModel{}).
		Where("id = ? AND status = ? AND token_address = '' AND launch_status IN ?", id,
			model.CampaignStatusCompleted, []model.LaunchStatus{model.LaunchStatusNone, model.LaunchStatusFailed}).
		Updates(map[string]interface{}(enterPendingFields(now)))
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormCampaigns) BeginAttempt(ctx context.Context, id string, now time.Time) error {
	return r.Update(ctx, id, Fields{
		"launch_attempts":   gorm.Expr("launch_attempts + 1"),
		"launch_started_at": &now,
	})
}

func (r *gormCampaigns) ListByLaunchStatus(ctx context.Context, status model.LaunchStatus) ([]model.CampaignModel, error) {
	var campaigns []model.CampaignModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND launch_status = ?", model.CampaignStatusCompleted, status).
		Order("completed_at").
		Find(&campaigns).Error
	return campaigns, err
}

func (r *gormCampaigns) ListReachedTarget(ctx context.Context) ([]model.CampaignModel, error) {
	var campaigns []model.CampaignModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND current_donated_lamports >= target_lamports", model.CampaignStatusActive).
		Order("updated_at").
		Find(&campaigns).Error
	return campaigns, err
}

type gormContributors struct {
	db *gorm.DB
}

func (r *gormContributors) Register(ctx context.Context, address string) (*model.ContributorModel, error) {
	c := model.ContributorModel{Address: address}
	if err := r.db.WithContext(ctx).Where("address = ?", address).FirstOrCreate(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (r *gormContributors) Get(ctx context.Context, address string) (*model.ContributorModel, error) {
	var c model.ContributorModel
	if err := r.db.WithContext(ctx).Where("address = ?", address).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (r *gormContributors) SignatureUsed(ctx context.Context, sig string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ContributionModel{}).Where("signature = ?", sig).Count(&count).Error
	return count > 0, err
}

func (r *gormContributors) AddContribution(ctx context.Context, c *model.ContributionModel) error {
	return translate(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		contributor := model.ContributorModel{Address: c.ContributorAddress}
		if err := tx.Where("address = ?", c.ContributorAddress).FirstOrCreate(&contributor).Error; err != nil {
			return err
		}
		return tx.Model(&model.ContributorModel{}).
			Where("address = ?", c.ContributorAddress).
			Update("total_contributed_lamports", gorm.Expr("total_contributed_lamports + ?", c.AmountLamports)).Error
	}))
}

func (r *gormContributors) ListContributions(ctx context.Context, address string) ([]model.ContributionModel, error) {
	var rows []model.ContributionModel
	err := r.db.WithContext(ctx).Where("contributor_address = ?", address).Order("created_at").Find(&rows).Error
	return rows, err
}
