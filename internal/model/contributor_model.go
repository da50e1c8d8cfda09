package model

import (
	"time"
)

// ContributorModel 贡献者，以钱包地址为主键，不会被删除
type ContributorModel struct {
	Address                  string    `json:"address" gorm:"primaryKey;type:varchar(44)"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
	TotalContributedLamports uint64    `json:"total_contributed_lamports" gorm:"default:0"`
}

// TableName 自定义表名
func (ContributorModel) TableName() string {
	return "contributor"
}

// ContributionModel 一笔已在链上验证的贡献，写入后不再修改
type ContributionModel struct {
	Id                 int64     `json:"id" gorm:"primaryKey"`
	CreatedAt          time.Time `json:"created_at"`
	CampaignId         string    `json:"campaign_id" gorm:"not null;index;type:varchar(36)"`
	ContributorAddress string    `json:"contributor_address" gorm:"not null;index;type:varchar(44)"`
	AmountLamports     uint64    `json:"amount_lamports" gorm:"not null"`
	Signature          string    `json:"signature" gorm:"uniqueIndex;type:varchar(88)"`
}

// TableName 自定义表名
func (ContributionModel) TableName() string {
	return "contribution"
}
