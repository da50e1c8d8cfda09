// Package issuance 对接第三方发币服务（PumpPortal 接口）
package issuance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/crowdfundme/crowdfund-server/internal/apperr"
	"github.com/crowdfundme/crowdfund-server/internal/config"
	"github.com/crowdfundme/crowdfund-server/internal/logger"
	"github.com/crowdfundme/crowdfund-server/internal/retry"
	"github.com/gagliardetto/solana-go"
	"github.com/tidwall/gjson"
)

// Wallet 发币服务分配的钱包
type Wallet struct {
	APIKey     string
	PublicKey  string
	PrivateKey string
}

// Metadata 代币元数据
type Metadata struct {
	Name        string
	Symbol      string
	Description string
	Twitter     string
	Telegram    string
	Website     string
}

// CreateTokenRequest 发币请求，AmountSOL 为创建时的首笔买入
type CreateTokenRequest struct {
	Name        string
	Symbol      string
	URI         string
	Mint        solana.PrivateKey
	AmountSOL   float64
	Slippage    float64
	PriorityFee float64
}

// Service 发币服务
type Service interface {
	CreateWallet(ctx context.Context) (*Wallet, error)
	FetchImage(ctx context.Context, imageURL string) ([]byte, string, error)
	UploadMetadata(ctx context.Context, meta Metadata, image []byte, filename string) (string, error)
	CreateToken(ctx context.Context, apiKey string, req CreateTokenRequest) (string, error)
}

// Client 基于 HTTP 的发币服务客户端
type Client struct {
	baseURL     string
	metadataURL string
	pool        string
	maxImage    int64
	httpClient  *http.Client
	retry       retry.Config
}

var _ Service = (*Client)(nil)

// New 创建客户端
func New(cfg config.IssuanceConfig) *Client {
	timeout := config.Seconds(cfg.RequestTimeout)
	if timeout == 0 {
		timeout = config.Seconds(30)
	}
	maxImage := cfg.MaxImageBytes
	if maxImage <= 0 {
		maxImage = 5 << 20
	}
	pool := cfg.Pool
	if pool == "" {
		pool = "pump"
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		metadataURL: cfg.MetadataURL,
		pool:        pool,
		maxImage:    maxImage,
		httpClient:  &http.Client{Timeout: timeout},
		retry:       retry.DefaultConfig(),
	}
}

// statusError 非2xx响应
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

// doJSON 发送请求并返回响应体；429 总是重试，5xx 只在 retry5xx 时重试
func (c *Client) doJSON(ctx context.Context, op string, retry5xx bool, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, c.retry, op, func(ctx context.Context) error {
		req, err := build(ctx)
		if err != nil {
			return retry.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			se := &statusError{code: resp.StatusCode, body: truncate(string(data), 256)}
			if resp.StatusCode == http.StatusTooManyRequests || (retry5xx && resp.StatusCode >= 500) {
				return se
			}
			return retry.Permanent(se)
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, apperr.External(err, "发币服务请求失败(%s): %v", op, err)
	}
	return body, nil
}

// CreateWallet 申请新的发币钱包
func (c *Client) CreateWallet(ctx context.Context) (*Wallet, error) {
	body, err := c.doJSON(ctx, "createWallet", true, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/create-wallet", nil)
	})
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	w := &Wallet{
		APIKey:     res.Get("apiKey").String(),
		PublicKey:  res.Get("walletPublicKey").String(),
		PrivateKey: res.Get("privateKey").String(),
	}
	if w.APIKey == "" || w.PublicKey == "" || w.PrivateKey == "" {
		return nil, apperr.External(nil, "发币服务返回的钱包信息不完整")
	}
	logger.Info("Issuance wallet created: %s", w.PublicKey)
	return w, nil
}

// FetchImage 下载代币图片，超过大小上限返回错误
func (c *Client) FetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	var (
		data     []byte
		mimeType string
	)
	err := retry.Do(ctx, c.retry, "fetchImage", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			se := &statusError{code: resp.StatusCode}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return se
			}
			return retry.Permanent(se)
		}
		data, err = io.ReadAll(io.LimitReader(resp.Body, c.maxImage+1))
		if err != nil {
			return err
		}
		if int64(len(data)) > c.maxImage {
			return retry.Permanent(fmt.Errorf("image exceeds %d bytes", c.maxImage))
		}
		mimeType = resp.Header.Get("Content-Type")
		return nil
	})
	if err != nil {
		return nil, "", apperr.External(err, "下载代币图片失败: %v", err)
	}
	return data, imageFilename(imageURL, mimeType), nil
}

func imageFilename(imageURL, mimeType string) string {
	if u, err := url.Parse(imageURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." && strings.Contains(base, ".") {
			return base
		}
	}
	switch {
	case strings.Contains(mimeType, "jpeg"):
		return "image.jpg"
	case strings.Contains(mimeType, "gif"):
		return "image.gif"
	case strings.Contains(mimeType, "webp"):
		return "image.webp"
	default:
		return "image.png"
	}
}

// UploadMetadata 上传图片和元数据，返回 metadata URI
func (c *Client) UploadMetadata(ctx context.Context, meta Metadata, image []byte, filename string) (string, error) {
	body, err := c.doJSON(ctx, "uploadMetadata", true, func(ctx context.Context) (*http.Request, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)

		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(image); err != nil {
			return nil, err
		}
		fields := [][2]string{
			{"name", meta.Name},
			{"symbol", meta.Symbol},
			{"description", meta.Description},
			{"twitter", meta.Twitter},
			{"telegram", meta.Telegram},
			{"website", meta.Website},
			{"showName", "true"},
		}
		for _, f := range fields {
			if err := w.WriteField(f[0], f[1]); err != nil {
				return nil, err
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.metadataURL, &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return "", err
	}

	uri := gjson.GetBytes(body, "metadataUri").String()
	if uri == "" {
		return "", apperr.External(nil, "发币服务未返回 metadataUri")
	}
	logger.Info("Metadata uploaded for %s: %s", meta.Symbol, uri)
	return uri, nil
}

type tokenMetadata struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	URI    string `json:"uri"`
}

type tradeRequest struct {
	Action           string        `json:"action"`
	TokenMetadata    tokenMetadata `json:"tokenMetadata"`
	Mint             string        `json:"mint"`
	DenominatedInSol string        `json:"denominatedInSol"`
	Amount           float64       `json:"amount"`
	Slippage         float64       `json:"slippage"`
	PriorityFee      float64       `json:"priorityFee"`
	Pool             string        `json:"pool"`
}

// ErrNoSignature 发币服务没有返回交易签名
var ErrNoSignature = errors.New("issuance response has no signature")

// CreateToken 提交发币请求，返回交易签名
// 5xx 不重试，结果未知时由调用方通过链上供应量确认
func (c *Client) CreateToken(ctx context.Context, apiKey string, req CreateTokenRequest) (string, error) {
	payload, err := json.Marshal(tradeRequest{
		Action:           "create",
		TokenMetadata:    tokenMetadata{Name: req.Name, Symbol: req.Symbol, URI: req.URI},
		Mint:             req.Mint.String(),
		DenominatedInSol: "true",
		Amount:           req.AmountSOL,
		Slippage:         req.Slippage,
		PriorityFee:      req.PriorityFee,
		Pool:             c.pool,
	})
	if err != nil {
		return "", fmt.Errorf("marshal trade request: %w", err)
	}

	endpoint := c.baseURL + "/api/trade?api-key=" + url.QueryEscape(apiKey)
	body, err := c.doJSON(ctx, "createToken", false, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	})
	if err != nil {
		return "", err
	}

	res := gjson.ParseBytes(body)
	if errs := res.Get("errors"); errs.Exists() && len(errs.Array()) > 0 {
		return "", apperr.External(nil, "发币失败: %s", errs.Raw)
	}
	sig := res.Get("signature").String()
	if sig == "" {
		return "", apperr.External(ErrNoSignature, "发币失败: 未返回交易签名")
	}
	logger.Info("Token create submitted for %s (mint: %s, sig: %s)", req.Symbol, req.Mint.PublicKey(), sig)
	return sig, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
