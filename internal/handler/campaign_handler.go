package handler

import (
	"context"
	"net/http"

	"github.com/crowdfundme/crowdfund-server/internal/apperr"
	"github.com/crowdfundme/crowdfund-server/internal/chain"
	"github.com/crowdfundme/crowdfund-server/internal/launch"
	"github.com/crowdfundme/crowdfund-server/internal/logic"
	"github.com/crowdfundme/crowdfund-server/internal/model"
	"github.com/gin-gonic/gin"
)

const (
	// WalletHeader 调用方钱包地址
	WalletHeader = "X-Wallet-Address"
	// SignatureHeader 调用方钱包对 AuthMessage 的 base58 签名
	SignatureHeader = "X-Wallet-Signature"
)

// AuthMessage 调用方需要签名的消息，绑定操作和活动
func AuthMessage(action, campaignID string) []byte {
	return []byte("crowdfund:" + action + ":" + campaignID)
}

// signedCaller 校验调用方签名，未提供地址时返回空字符串交给业务层拒绝
func signedCaller(c *gin.Context, action string) (string, error) {
	address := c.GetHeader(WalletHeader)
	if address == "" {
		return "", nil
	}
	if err := chain.VerifyMessage(address, c.GetHeader(SignatureHeader), AuthMessage(action, c.Param("id"))); err != nil {
		return "", apperr.Unauthorized("钱包签名无效")
	}
	return address, nil
}

// CampaignService 活动业务逻辑
type CampaignService interface {
	CreateCampaign(ctx context.Context, in logic.CreateCampaignInput) (*model.CampaignModel, error)
	GetCampaign(ctx context.Context, id string) (*model.CampaignModel, error)
	Contribute(ctx context.Context, campaignID string, in logic.ContributeInput) (*model.CampaignModel, error)
	RequestLaunch(ctx context.Context, campaignID, caller string) (*model.CampaignModel, error)
	TransferIssuedAsset(ctx context.Context, campaignID, caller string) (*launch.TransferResult, error)
	RegisterContributor(ctx context.Context, address string) (*model.ContributorModel, []model.ContributionModel, error)
}

var _ CampaignService = (*logic.CampaignLogic)(nil)

// CampaignHandler 活动处理器
type CampaignHandler struct {
	campaignLogic CampaignService
}

// NewCampaignHandler 创建活动处理器
func NewCampaignHandler(campaignLogic CampaignService) *CampaignHandler {
	return &CampaignHandler{campaignLogic: campaignLogic}
}

// CreateCampaign 创建活动
func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "请求参数错误: "+err.Error())
		return
	}

	campaign, err := h.campaignLogic.CreateCampaign(c.Request.Context(), logic.CreateCampaignInput{
		CreatorAddress: req.CreatorAddress,
		Name:           req.Name,
		Symbol:         req.Symbol,
		Description:    req.Description,
		ImageURL:       req.ImageURL,
		Twitter:        req.Twitter,
		Telegram:       req.Telegram,
		Website:        req.Website,
		TargetSOL:      req.TargetSol,
		FeeSignature:   req.FeeSignature,
	})
	if err != nil {
		AppErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "活动创建成功", ToCampaignResponse(campaign))
}

// GetCampaign 获取活动详情
func (h *CampaignHandler) GetCampaign(c *gin.Context) {
	campaign, err := h.campaignLogic.GetCampaign(c.Request.Context(), c.Param("id"))
	if err != nil {
		AppErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "获取活动详情成功", ToCampaignResponse(campaign))
}

// Contribute 提交一笔链上贡献
func (h *CampaignHandler) Contribute(c *gin.Context) {
	var req ContributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "请求参数错误: "+err.Error())
		return
	}

	campaign, err := h.campaignLogic.Contribute(c.Request.Context(), c.Param("id"), logic.ContributeInput{
		AmountSOL:   req.Amount,
		Contributor: req.Contributor,
		Signature:   req.Signature,
	})
	if err != nil {
		AppErrorResponse(c, err)
		return
	}

	message := "贡献已确认"
	if campaign.IsCompleted() {
		message = "贡献已确认，活动已达标"
	}
	SuccessResponse(c, http.StatusOK, message, ToCampaignResponse(campaign))
}

// Launch 触发发币，流程在后台执行
func (h *CampaignHandler) Launch(c *gin.Context) {
	caller, err := signedCaller(c, "launch")
	if err != nil {
		AppErrorResponse(c, err)
		return
	}
	campaign, err := h.campaignLogic.RequestLaunch(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		AppErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusAccepted, "发币流程已启动", ToCampaignResponse(campaign))
}

// TransferAsset 分发已发行的代币并回收剩余SOL
func (h *CampaignHandler) TransferAsset(c *gin.Context) {
	caller, err := signedCaller(c, "transfer")
	if err != nil {
		AppErrorResponse(c, err)
		return
	}
	result, err := h.campaignLogic.TransferIssuedAsset(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		AppErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "代币分发完成", result)
}

// RegisterContributor 登记贡献者
func (h *CampaignHandler) RegisterContributor(c *gin.Context) {
	var req RegisterContributorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "请求参数错误: "+err.Error())
		return
	}

	contributor, contributions, err := h.campaignLogic.RegisterContributor(c.Request.Context(), req.Address)
	if err != nil {
		AppErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "贡献者登记成功", ToContributorResponse(contributor, contributions))
}
