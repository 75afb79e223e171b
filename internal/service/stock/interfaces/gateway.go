// internal/service/stock/interfaces/gateway.go
package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"nexus-storage/internal/pkg/logger"
	"nexus-storage/internal/service/stock/domain"
)

// StockEngine 是网关驱动的应用服务，由 application.ReservationEngine 实现。
type StockEngine interface {
	Restock(ctx context.Context, items []domain.LineItem) ([]domain.EventItem, error)
	Reserve(ctx context.Context, items []domain.LineItem) ([]domain.EventItem, error)
	Confirm(ctx context.Context, items []domain.LineItem) ([]domain.EventItem, error)
	Cancel(ctx context.Context, items []domain.LineItem) ([]domain.EventItem, error)
	CheckActiveReservations(ctx context.Context, items []domain.LineItem) (*domain.CheckResponse, error)
	GetFullStock(ctx context.Context) ([]domain.FullItem, error)
}

// CommandTopics 是只投递、不应答的命令主题。
var CommandTopics = []string{domain.TopicRestock, domain.TopicConfirm, domain.TopicCancel}

// RPCTopics 是需要按 reply-to 应答的请求主题。
var RPCTopics = []string{domain.TopicReserve, domain.TopicCheckActiveReservations, domain.TopicGetAll}

// Gateway 把总线消息解码后分派给引擎，与具体传输（Kafka、HTTP）无关。
type Gateway struct {
	engine StockEngine
}

func NewGateway(engine StockEngine) *Gateway {
	return &Gateway{engine: engine}
}

// HandleCommand 处理一条命令消息，返回的错误由调用方记录并转入死信主题。
func (g *Gateway) HandleCommand(ctx context.Context, topic string, payload []byte) error {
	items, err := decodeLines(payload)
	if err != nil {
		return err
	}
	switch topic {
	case domain.TopicRestock:
		_, err = g.engine.Restock(ctx, items)
	case domain.TopicConfirm:
		_, err = g.engine.Confirm(ctx, items)
	case domain.TopicCancel:
		_, err = g.engine.Cancel(ctx, items)
	default:
		return domain.NewInvalidInputError(fmt.Sprintf("unknown command topic %q", topic), map[string]any{"topic": topic})
	}
	return err
}

// HandleRPC 处理一条请求消息并返回应答体。业务失败编码在应答里，不作为错误返回；
// 只有主题未知时才返回错误。
func (g *Gateway) HandleRPC(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	switch topic {
	case domain.TopicReserve:
		return json.Marshal(g.reserve(ctx, payload))
	case domain.TopicCheckActiveReservations:
		return json.Marshal(g.check(ctx, payload))
	case domain.TopicGetAll:
		items, err := g.engine.GetFullStock(ctx)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Get all stock RPC request failed")
			items = []domain.FullItem{}
		}
		return json.Marshal(items)
	default:
		return nil, domain.NewInvalidInputError(fmt.Sprintf("unknown rpc topic %q", topic), map[string]any{"topic": topic})
	}
}

func (g *Gateway) reserve(ctx context.Context, payload []byte) domain.ReserveResponse {
	items, err := decodeLines(payload)
	if err == nil {
		_, err = g.engine.Reserve(ctx, items)
	}
	if err != nil {
		return domain.ReserveResponse{Success: false, Reason: err.Error(), Code: string(domain.CodeOf(err))}
	}
	return domain.ReserveResponse{Success: true}
}

func (g *Gateway) check(ctx context.Context, payload []byte) domain.CheckResponse {
	items, err := decodeLines(payload)
	var resp *domain.CheckResponse
	if err == nil {
		resp, err = g.engine.CheckActiveReservations(ctx, items)
	}
	if err != nil {
		return domain.CheckResponse{Success: false, MissingItems: []int64{}, Reason: err.Error(), Code: string(domain.CodeOf(err))}
	}
	return *resp
}

// decodeLines 解析 [{itemId, amount, basketId?}]，空消息体视为空批次。
func decodeLines(payload []byte) ([]domain.LineItem, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return []domain.LineItem{}, nil
	}
	var items []domain.LineItem
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, &domain.StockError{
			Code:    domain.CodeInvalidInput,
			Message: fmt.Sprintf("malformed line items: %v", err),
			Err:     err,
		}
	}
	return items, nil
}
