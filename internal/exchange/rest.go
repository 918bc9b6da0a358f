package exchange

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/opentrade/opentrade/internal/domain"
	"github.com/opentrade/opentrade/pkg/config"
	"github.com/opentrade/opentrade/pkg/logger"
	"github.com/opentrade/opentrade/pkg/ratelimit"
)

// REST 通用 REST 交易所适配器
//
// 重试策略属于执行引擎，这里不做内部重试，只负责把
// HTTP 结果翻译成统一的错误分类。
type REST struct {
	client  *resty.Client
	limiter ratelimit.RateLimiter
	log     *logrus.Entry
}

// NewREST 创建 REST 适配器
func NewREST(cfg config.ExchangeConfig) (*REST, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rest venue 需要 base_url")
	}
	// 不设客户端级超时：提交/查询的时限由调用方的 ctx 决定，
	// 客户端再设一层会把配置的 submit_timeout_sec 偷偷压短
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-API-KEY", cfg.APIKey).
		SetHeader("X-API-SECRET", cfg.APISecret)

	rate := cfg.RateLimit
	if rate <= 0 {
		rate = 8
	}
	return &REST{
		client:  client,
		limiter: ratelimit.NewTokenBucket(rate, rate),
		log:     logger.WithField("module", "exchange"),
	}, nil
}

type restOrderRequest struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	StopLoss      string `json:"stop_loss,omitempty"`
	TakeProfit    string `json:"take_profit,omitempty"`
}

type restOrderResponse struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Status        string `json:"status"`
	FilledSize    string `json:"filled_size"`
	AvgFillPrice  string `json:"avg_fill_price"`
	Message       string `json:"message"`
}

func (r *REST) SubmitOrder(ctx context.Context, order *domain.Order) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var out restOrderResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(restOrderRequest{
			ClientOrderID: order.ClientOrderID,
			Symbol:        order.Symbol,
			Side:          string(order.Side),
			Size:          order.Size.String(),
			StopLoss:      order.StopLoss.String(),
			TakeProfit:    order.TakeProfit.String(),
		}).
		SetResult(&out).
		Post("/orders")
	if err != nil {
		// 网络层失败归为瞬时错误
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if err := classifyStatus(resp.StatusCode(), out.Message); err != nil {
		return "", err
	}
	return out.OrderID, nil
}

func (r *REST) CancelOrder(ctx context.Context, clientOrderID string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := r.client.R().
		SetContext(ctx).
		SetPathParam("id", clientOrderID).
		Delete("/orders/{id}")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return ErrNotFound
	}
	return classifyStatus(resp.StatusCode(), "")
}

func (r *REST) QueryOrder(ctx context.Context, clientOrderID string) (*domain.Order, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var out restOrderResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetPathParam("id", clientOrderID).
		SetResult(&out).
		Get("/orders/{id}")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := classifyStatus(resp.StatusCode(), out.Message); err != nil {
		return nil, err
	}
	return restToOrder(&out)
}

func restToOrder(resp *restOrderResponse) (*domain.Order, error) {
	o := &domain.Order{
		ClientOrderID: resp.ClientOrderID,
		VenueOrderID:  resp.OrderID,
		Status:        mapVenueStatus(resp.Status),
	}
	if resp.FilledSize != "" {
		filled, err := decimal.NewFromString(resp.FilledSize)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "解析成交数量失败")
		}
		o.FilledSize = filled
	}
	if resp.AvgFillPrice != "" {
		price, err := decimal.NewFromString(resp.AvgFillPrice)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "解析成交均价失败")
		}
		o.AvgFillPrice = price
	}
	return o, nil
}

func mapVenueStatus(s string) domain.OrderStatus {
	switch s {
	case "new", "accepted":
		return domain.OrderStatusAcked
	case "partially_filled":
		return domain.OrderStatusPartFilled
	case "filled":
		return domain.OrderStatusFilled
	case "rejected":
		return domain.OrderStatusRejected
	case "canceled", "cancelled", "expired":
		return domain.OrderStatusCanceled
	}
	return domain.OrderStatusSubmitted
}

// classifyStatus HTTP 状态码翻译为统一错误分类
// 5xx 和限流可重试，其余 4xx 是终态拒绝。
func classifyStatus(code int, message string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: http %d %s", ErrTransient, code, message)
	default:
		return fmt.Errorf("%w: http %d %s", ErrRejected, code, message)
	}
}
