package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/crowdfundme/crowdfund-server/internal/apperr"
	"github.com/crowdfundme/crowdfund-server/internal/launch"
	"github.com/crowdfundme/crowdfund-server/internal/logic"
	"github.com/crowdfundme/crowdfund-server/internal/model"
	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	campaign *model.CampaignModel
	err      error

	gotCreate     logic.CreateCampaignInput
	gotContribute logic.ContributeInput
	gotCaller     string
}

func (f *fakeService) CreateCampaign(ctx context.Context, in logic.CreateCampaignInput) (*model.CampaignModel, error) {
	f.gotCreate = in
	return f.campaign, f.err
}

func (f *fakeService) GetCampaign(ctx context.Context, id string) (*model.CampaignModel, error) {
	return f.campaign, f.err
}

func (f *fakeService) Contribute(ctx context.Context, id string, in logic.ContributeInput) (*model.CampaignModel, error) {
	f.gotContribute = in
	return f.campaign, f.err
}

func (f *fakeService) RequestLaunch(ctx context.Context, id, caller string) (*model.CampaignModel, error) {
	f.gotCaller = caller
	return f.campaign, f.err
}

func (f *fakeService) TransferIssuedAsset(ctx context.Context, id, caller string) (*launch.TransferResult, error) {
	f.gotCaller = caller
	if f.err != nil {
		return nil, f.err
	}
	return &launch.TransferResult{Recipient: "creator", DistributedAmount: 7}, nil
}

func (f *fakeService) RegisterContributor(ctx context.Context, address string) (*model.ContributorModel, []model.ContributionModel, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return &model.ContributorModel{Address: address, TotalContributedLamports: 2_500_000_000},
		[]model.ContributionModel{{CampaignId: "c1", AmountLamports: 2_500_000_000, Signature: "sig"}}, nil
}

func newTestRouter(svc CampaignService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewCampaignHandler(svc)
	r.POST("/campaigns", h.CreateCampaign)
	r.GET("/campaigns/:id", h.GetCampaign)
	r.POST("/campaigns/:id/contributions", h.Contribute)
	r.POST("/campaigns/:id/launch", h.Launch)
	r.POST("/campaigns/:id/transfer", h.TransferAsset)
	r.POST("/contributors", h.RegisterContributor)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}, header map[string]string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func sampleCampaign() *model.CampaignModel {
	return &model.CampaignModel{
		Id:                     "c1",
		Name:                   "Moon",
		Symbol:                 "MOON",
		TargetLamports:         10_000_000_000,
		CurrentDonatedLamports: 6_000_000_000,
		Status:                 model.CampaignStatusActive,
		WalletPublicKey:        "wallet",
		WalletPrivateKey:       "secret-key",
	}
}

func TestCreateCampaign(t *testing.T) {
	svc := &fakeService{campaign: sampleCampaign()}
	w, resp := do(t, newTestRouter(svc), http.MethodPost, "/campaigns", gin.H{
		"creatorAddress": "creator",
		"name":           "Moon",
		"symbol":         "MOON",
		"targetSol":      10,
		"feeSignature":   "sig",
	}, nil)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, 10.0, svc.gotCreate.TargetSOL)
	assert.NotContains(t, w.Body.String(), "secret-key")

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, 6.0, data["currentDonatedSol"])
	assert.Equal(t, "wallet", data["walletAddress"])
}

func TestCreateCampaign_BadRequest(t *testing.T) {
	w, resp := do(t, newTestRouter(&fakeService{}), http.MethodPost, "/campaigns", gin.H{"name": "Moon"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
}

func TestContribute_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{apperr.Validation("贡献金额无效"), http.StatusBadRequest},
		{apperr.NotFound("活动不存在"), http.StatusNotFound},
		{apperr.CampaignCompleted("活动已完成"), http.StatusConflict},
		{apperr.Conflict("重复"), http.StatusConflict},
		{apperr.Verification("验证失败"), http.StatusUnprocessableEntity},
		{apperr.Transient(nil, "稍后重试"), http.StatusServiceUnavailable},
		{apperr.InsufficientFunds("余额不足"), http.StatusUnprocessableEntity},
		{apperr.External(nil, "发币失败"), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		svc := &fakeService{err: tt.err}
		w, resp := do(t, newTestRouter(svc), http.MethodPost, "/campaigns/c1/contributions", gin.H{
			"amount": 1.5, "contributorAddress": "alice", "signature": "sig",
		}, nil)
		assert.Equal(t, tt.status, w.Code, tt.err.Error())
		assert.False(t, resp.Success)
		assert.Equal(t, apperr.PublicMessage(tt.err), resp.Message)
	}
}

func TestContribute_Completed(t *testing.T) {
	c := sampleCampaign()
	c.Status = model.CampaignStatusCompleted
	svc := &fakeService{campaign: c}

	w, resp := do(t, newTestRouter(svc), http.MethodPost, "/campaigns/c1/contributions", gin.H{
		"amount": 4, "contributorAddress": "alice", "signature": "sig",
	}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "贡献已确认，活动已达标", resp.Message)
	assert.Equal(t, logic.ContributeInput{AmountSOL: 4, Contributor: "alice", Signature: "sig"}, svc.gotContribute)
}

// signedHeaders 钱包对操作消息签名后的请求头
func signedHeaders(t *testing.T, w *solana.Wallet, action, campaignID string) map[string]string {
	t.Helper()
	sig, err := w.PrivateKey.Sign(AuthMessage(action, campaignID))
	require.NoError(t, err)
	return map[string]string{WalletHeader: w.PublicKey().String(), SignatureHeader: sig.String()}
}

func TestLaunch_PassesCaller(t *testing.T) {
	admin := solana.NewWallet()
	svc := &fakeService{campaign: sampleCampaign()}
	w, _ := do(t, newTestRouter(svc), http.MethodPost, "/campaigns/c1/launch", nil, signedHeaders(t, admin, "launch", "c1"))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, admin.PublicKey().String(), svc.gotCaller)

	svc.err = apperr.Unauthorized("无权操作该活动")
	w, _ = do(t, newTestRouter(svc), http.MethodPost, "/campaigns/c1/launch", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLaunch_RejectsUnsignedCaller(t *testing.T) {
	creator := solana.NewWallet()
	tests := []struct {
		name   string
		header map[string]string
	}{
		{"missing signature", map[string]string{WalletHeader: creator.PublicKey().String()}},
		{"other campaign", signedHeaders(t, creator, "launch", "c2")},
		{"other action", signedHeaders(t, creator, "transfer", "c1")},
		{"other wallet", map[string]string{
			WalletHeader:    creator.PublicKey().String(),
			SignatureHeader: signedHeaders(t, solana.NewWallet(), "launch", "c1")[SignatureHeader],
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{campaign: sampleCampaign()}
			w, resp := do(t, newTestRouter(svc), http.MethodPost, "/campaigns/c1/launch", nil, tt.header)
			assert.Equal(t, http.StatusForbidden, w.Code)
			assert.False(t, resp.Success)
			assert.Empty(t, svc.gotCaller)
		})
	}
}

func TestTransferAsset(t *testing.T) {
	creator := solana.NewWallet()
	svc := &fakeService{}
	w, resp := do(t, newTestRouter(svc), http.MethodPost, "/campaigns/c1/transfer", nil, signedHeaders(t, creator, "transfer", "c1"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, creator.PublicKey().String(), svc.gotCaller)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, 7.0, data["distributed_amount"])
}

func TestRegisterContributor(t *testing.T) {
	w, resp := do(t, newTestRouter(&fakeService{}), http.MethodPost, "/contributors", gin.H{"address": "alice"}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "alice", data["address"])
	assert.Equal(t, 2.5, data["totalContributedSol"])
	assert.Len(t, data["contributions"], 1)
}
