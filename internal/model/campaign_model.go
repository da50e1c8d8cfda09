package model

import (
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/crowdfundme/crowdfund-server/internal/apperr"
	"github.com/crowdfundme/crowdfund-server/internal/chain"
	"github.com/google/uuid"
)

// CampaignModel 众筹活动，金额单位均为 lamports
type CampaignModel struct {
	Id        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 创建者
	CreatorAddress string `json:"creator_address" gorm:"not null;index;type:varchar(44)"`

	// 展示信息
	Name        string `json:"name" gorm:"not null"`
	Symbol      string `json:"symbol" gorm:"not null"`
	Description string `json:"description" gorm:"type:text"`
	ImageURL    string `json:"image_url"`
	Twitter     string `json:"twitter"`
	Telegram    string `json:"telegram"`
	Website     string `json:"website"`

	// 众筹信息
	TargetLamports         uint64 `json:"target_lamports" gorm:"not null"`
	CurrentDonatedLamports uint64 `json:"current_donated_lamports" gorm:"default:0"`
	InitialFeePaidLamports uint64 `json:"initial_fee_paid_lamports" gorm:"default:0"`
	FeeTxSignature         string `json:"fee_tx_signature" gorm:"uniqueIndex;type:varchar(88)"`

	// 状态
	Status      CampaignStatus `json:"status" gorm:"default:'active';index"`
	CompletedAt *time.Time     `json:"completed_at"`

	// 发币状态
	LaunchStatus    LaunchStatus `json:"launch_status" gorm:"default:'';index"`
	LaunchAttempts  int          `json:"launch_attempts" gorm:"default:0"`
	LaunchError     *string      `json:"launch_error"`
	LaunchStartedAt *time.Time   `json:"launch_started_at"`

	// 活动自有的运营钱包
	WalletPublicKey  string `json:"wallet_public_key" gorm:"not null;type:varchar(44)"`
	WalletPrivateKey string `json:"-" gorm:"not null"`

	// 资金分配
	TotalLamportsToTransfer uint64 `json:"total_lamports_to_transfer" gorm:"default:0"`
	RetainedFeeLamports     uint64 `json:"retained_fee_lamports" gorm:"default:0"`

	// 发币钱包
	IssuanceWalletPublicKey   string `json:"issuance_wallet_public_key"`
	IssuanceWalletPrivateKey  string `json:"-"`
	IssuanceAPIKey            string `json:"-"`
	IssuanceTransferCompleted bool   `json:"issuance_transfer_completed" gorm:"default:false"`

	MetadataURI string `json:"metadata_uri"`

	// 代币信息，TokenAddress 只在发币成功后写入
	MintPublicKey     string `json:"mint_public_key"`
	MintPrivateKey    string `json:"-"`
	TokenAddress      string `json:"token_address" gorm:"index"`
	ExplorerURL       string `json:"explorer_url"`
	IssuanceSignature string `json:"issuance_signature"`

	// 代币分发
	DistributionCompleted bool   `json:"distribution_completed" gorm:"default:false"`
	DistributedAmount     uint64 `json:"distributed_amount" gorm:"default:0"`
	DistributionSignature string `json:"distribution_signature"`
	// 首次分发前收款方的代币余额，未开始分发时为空
	DistributionBaseline *uint64 `json:"-"`

	SweepSignature string `json:"sweep_signature"`
}

// CampaignStatus 活动状态
type CampaignStatus string

const (
	CampaignStatusActive    CampaignStatus = "active"    // 募集中
	CampaignStatusCompleted CampaignStatus = "completed" // 已达标
)

// LaunchStatus 发币状态，空字符串表示尚未开始
type LaunchStatus string

const (
	LaunchStatusNone      LaunchStatus = ""
	LaunchStatusPending   LaunchStatus = "pending"
	LaunchStatusCompleted LaunchStatus = "completed"
	LaunchStatusFailed    LaunchStatus = "failed"
)

// TableName 自定义表名
func (CampaignModel) TableName() string {
	return "campaign"
}

// IsCompleted 是否已达标
func (c *CampaignModel) IsCompleted() bool {
	return c.Status == CampaignStatusCompleted
}

// IsLaunched 是否已发币
func (c *CampaignModel) IsLaunched() bool {
	return c.TokenAddress != ""
}

// CanEnterLaunch 能否开始新一轮发币
func (c *CampaignModel) CanEnterLaunch() bool {
	if !c.IsCompleted() || c.IsLaunched() {
		return false
	}
	return c.LaunchStatus == LaunchStatusNone || c.LaunchStatus == LaunchStatusFailed
}

// CampaignParams 创建活动的参数
type CampaignParams struct {
	CreatorAddress string
	Name           string
	Symbol         string
	Description    string
	ImageURL       string
	Twitter        string
	Telegram       string
	Website        string
	TargetLamports uint64
	FeeSignature   string
	FeeLamports    uint64
	WalletPublic   string
	WalletPrivate  string
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)

// NewCampaign 校验参数并构造活动，非法参数返回 Validation 错误
func NewCampaign(p CampaignParams) (*CampaignModel, error) {
	name := strings.TrimSpace(p.Name)
	if n := utf8.RuneCountInString(name); n == 0 || n > 32 {
		return nil, apperr.Validation("活动名称长度必须在1到32之间")
	}
	symbol := strings.ToUpper(strings.TrimSpace(p.Symbol))
	if !symbolPattern.MatchString(symbol) {
		return nil, apperr.Validation("代币符号必须为1到10位大写字母或数字")
	}
	if p.TargetLamports == 0 {
		return nil, apperr.Validation("目标金额必须大于0")
	}
	if _, err := chain.ParsePublicKey(p.CreatorAddress); err != nil {
		return nil, apperr.Validation("创建者地址无效")
	}
	if p.ImageURL != "" && !isHTTPURL(p.ImageURL) {
		return nil, apperr.Validation("图片地址必须是 http 或 https 链接")
	}
	if p.FeeSignature == "" {
		return nil, apperr.Validation("缺少创建费交易签名")
	}
	if p.WalletPublic == "" || p.WalletPrivate == "" {
		return nil, apperr.Validation("缺少运营钱包")
	}

	return &CampaignModel{
		Id:                     uuid.NewString(),
		CreatorAddress:         p.CreatorAddress,
		Name:                   name,
		Symbol:                 symbol,
		Description:            p.Description,
		ImageURL:               p.ImageURL,
		Twitter:                p.Twitter,
		Telegram:               p.Telegram,
		Website:                p.Website,
		TargetLamports:         p.TargetLamports,
		InitialFeePaidLamports: p.FeeLamports,
		FeeTxSignature:         p.FeeSignature,
		Status:                 CampaignStatusActive,
		LaunchStatus:           LaunchStatusNone,
		WalletPublicKey:        p.WalletPublic,
		WalletPrivateKey:       p.WalletPrivate,
	}, nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
