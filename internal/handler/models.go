package handler

import (
	"time"

	"github.com/crowdfundme/crowdfund-server/internal/chain"
	"github.com/crowdfundme/crowdfund-server/internal/model"
)

// 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// 活动相关请求模型

// CreateCampaignRequest 创建活动请求
type CreateCampaignRequest struct {
	CreatorAddress string  `json:"creatorAddress" binding:"required"`
	Name           string  `json:"name" binding:"required"`
	Symbol         string  `json:"symbol" binding:"required"`
	Description    string  `json:"description"`
	ImageURL       string  `json:"imageUrl"`
	Twitter        string  `json:"twitter"`
	Telegram       string  `json:"telegram"`
	Website        string  `json:"website"`
	TargetSol      float64 `json:"targetSol" binding:"required,gt=0"`
	FeeSignature   string  `json:"feeSignature" binding:"required"`
}

// ContributeRequest 贡献请求
type ContributeRequest struct {
	Amount      float64 `json:"amount" binding:"required"`
	Contributor string  `json:"contributorAddress" binding:"required"`
	Signature   string  `json:"signature" binding:"required"`
}

// RegisterContributorRequest 登记贡献者请求
type RegisterContributorRequest struct {
	Address string `json:"address" binding:"required"`
}

// 活动相关响应模型

// CampaignResponse 活动响应模型
type CampaignResponse struct {
	ID                    string     `json:"id"`
	CreatorAddress        string     `json:"creatorAddress"`
	Name                  string     `json:"name"`
	Symbol                string     `json:"symbol"`
	Description           string     `json:"description"`
	ImageURL              string     `json:"imageUrl"`
	Twitter               string     `json:"twitter,omitempty"`
	Telegram              string     `json:"telegram,omitempty"`
	Website               string     `json:"website,omitempty"`
	TargetSol             float64    `json:"targetSol"`
	CurrentDonatedSol     float64    `json:"currentDonatedSol"`
	InitialFeePaidSol     float64    `json:"initialFeePaidSol"`
	Status                string     `json:"status"`
	WalletAddress         string     `json:"walletAddress"`
	CompletedAt           *time.Time `json:"completedAt,omitempty"`
	TotalSolToTransfer    float64    `json:"totalSolToTransfer,omitempty"`
	LaunchStatus          string     `json:"launchStatus,omitempty"`
	LaunchAttempts        int        `json:"launchAttempts"`
	LaunchError           *string    `json:"launchError,omitempty"`
	TokenAddress          string     `json:"tokenAddress,omitempty"`
	ExplorerURL           string     `json:"explorerUrl,omitempty"`
	DistributionCompleted bool       `json:"distributionCompleted"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// ToCampaignResponse 转换活动，不包含任何私钥
func ToCampaignResponse(c *model.CampaignModel) CampaignResponse {
	return CampaignResponse{
		ID:                    c.Id,
		CreatorAddress:        c.CreatorAddress,
		Name:                  c.Name,
		Symbol:                c.Symbol,
		Description:           c.Description,
		ImageURL:              c.ImageURL,
		Twitter:               c.Twitter,
		Telegram:              c.Telegram,
		Website:               c.Website,
		TargetSol:             chain.LamportsToSol(c.TargetLamports),
		CurrentDonatedSol:     chain.LamportsToSol(c.CurrentDonatedLamports),
		InitialFeePaidSol:     chain.LamportsToSol(c.InitialFeePaidLamports),
		Status:                string(c.Status),
		WalletAddress:         c.WalletPublicKey,
		CompletedAt:           c.CompletedAt,
		TotalSolToTransfer:    chain.LamportsToSol(c.TotalLamportsToTransfer),
		LaunchStatus:          string(c.LaunchStatus),
		LaunchAttempts:        c.LaunchAttempts,
		LaunchError:           c.LaunchError,
		TokenAddress:          c.TokenAddress,
		ExplorerURL:           c.ExplorerURL,
		DistributionCompleted: c.DistributionCompleted,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
}

// 贡献者相关响应模型

// ContributionResponse 贡献记录响应模型
type ContributionResponse struct {
	CampaignID string    `json:"campaignId"`
	AmountSol  float64   `json:"amountSol"`
	Signature  string    `json:"signature"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ContributorResponse 贡献者响应模型
type ContributorResponse struct {
	Address             string                 `json:"address"`
	TotalContributedSol float64                `json:"totalContributedSol"`
	Contributions       []ContributionResponse `json:"contributions"`
	CreatedAt           time.Time              `json:"createdAt"`
}

// ToContributorResponse 转换贡献者
func ToContributorResponse(c *model.ContributorModel, contributions []model.ContributionModel) ContributorResponse {
	resp := ContributorResponse{
		Address:             c.Address,
		TotalContributedSol: chain.LamportsToSol(c.TotalContributedLamports),
		Contributions:       make([]ContributionResponse, 0, len(contributions)),
		CreatedAt:           c.CreatedAt,
	}
	for _, row := range contributions {
		resp.Contributions = append(resp.Contributions, ContributionResponse{
			CampaignID: row.CampaignId,
			AmountSol:  chain.LamportsToSol(row.AmountLamports),
			Signature:  row.Signature,
			CreatedAt:  row.CreatedAt,
		})
	}
	return resp
}
