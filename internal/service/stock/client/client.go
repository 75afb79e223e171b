// Package client 是库存总线契约的调用方实现：RPC 请求带有限等待，命令只投递不等待。
package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"nexus-storage/internal/pkg/logger"
	"nexus-storage/internal/pkg/mq"
	"nexus-storage/internal/service/stock/domain"
)

const DefaultTimeout = 5 * time.Second

// ErrRPCTimeout 表示在等待时间内没有收到应答。请求可能已经被处理。
var ErrRPCTimeout = errors.New("stock rpc: timed out waiting for reply")

// ReplyReader 抽象了应答主题的读取能力。
type ReplyReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Client 通过 correlation-id 把应答和等待中的请求对应起来。
type Client struct {
	writer     mq.MessageWriter
	replyTopic string
	timeout    time.Duration

	mu      sync.Mutex
	pending map[string]chan []byte
}

// NewClient 创建客户端。replyTopic 应当是本实例独占的主题。
func NewClient(writer mq.MessageWriter, replyTopic string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		writer:     writer,
		replyTopic: replyTopic,
		timeout:    timeout,
		pending:    make(map[string]chan []byte),
	}
}

// NewReplyTopic 生成实例独占的应答主题名。
func NewReplyTopic(serviceName string) string {
	return "catalog_item_stock.reply." + serviceName + "-" + uuid.NewString()[:8]
}

func (c *Client) ReplyTopic() string { return c.replyTopic }

func (c *Client) Reserve(ctx context.Context, items []domain.LineItem) (*domain.ReserveResponse, error) {
	var resp domain.ReserveResponse
	if err := c.call(ctx, domain.TopicReserve, items, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CheckActiveReservations(ctx context.Context, items []domain.LineItem) (*domain.CheckResponse, error) {
	var resp domain.CheckResponse
	if err := c.call(ctx, domain.TopicCheckActiveReservations, items, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetAll(ctx context.Context) ([]domain.FullItem, error) {
	var resp []domain.FullItem
	if err := c.call(ctx, domain.TopicGetAll, []domain.LineItem{}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Restock(ctx context.Context, items []domain.LineItem) error {
	return c.send(ctx, domain.TopicRestock, items)
}

func (c *Client) Confirm(ctx context.Context, items []domain.LineItem) error {
	return c.send(ctx, domain.TopicConfirm, items)
}

func (c *Client) Cancel(ctx context.Context, items []domain.LineItem) error {
	return c.send(ctx, domain.TopicCancel, items)
}

func (c *Client) send(ctx context.Context, topic string, items []domain.LineItem) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return errors.Wrap(err, "marshal line items")
	}
	return errors.Wrapf(mq.ProduceMessage(ctx, c.writer, topic, []byte(uuid.NewString()), payload), "publish %s", topic)
}

func (c *Client) call(ctx context.Context, topic string, items []domain.LineItem, out interface{}) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return errors.Wrap(err, "marshal line items")
	}

	correlationID := uuid.NewString()
	ch := make(chan []byte, 1)
	c.mu.Lock()
	c.pending[correlationID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, correlationID)
		c.mu.Unlock()
	}()

	err = mq.ProduceMessage(ctx, c.writer, topic, []byte(correlationID), payload,
		kafka.Header{Key: mq.HeaderCorrelationID, Value: []byte(correlationID)},
		kafka.Header{Key: mq.HeaderReplyTo, Value: []byte(c.replyTopic)},
	)
	if err != nil {
		return errors.Wrapf(err, "publish %s", topic)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case body := <-ch:
		return errors.Wrapf(json.Unmarshal(body, out), "decode %s reply", topic)
	case <-timer.C:
		return ErrRPCTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch 把一条应答交给等待中的请求。没有对应请求（已超时或重复投递）时返回 false。
func (c *Client) Dispatch(msg kafka.Message) bool {
	correlationID := mq.GetHeader(msg.Headers, mq.HeaderCorrelationID)
	c.mu.Lock()
	ch, ok := c.pending[correlationID]
	if ok {
		delete(c.pending, correlationID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- msg.Value
	return true
}

// Listen 持续读取应答主题，直到 ctx 被取消。
func (c *Client) Listen(ctx context.Context, reader ReplyReader) error {
	defer reader.Close()
	logger.Ctx(ctx).Info().Str("topic", c.replyTopic).Msg("✅ Stock RPC reply listener started.")
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.L().Info().Msg("🛑 Stock RPC reply listener shutting down.")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not read rpc reply, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if !c.Dispatch(msg) {
			logger.Ctx(ctx).Debug().Str("correlation_id", mq.GetHeader(msg.Headers, mq.HeaderCorrelationID)).Msg("late or unknown rpc reply discarded")
		}
	}
}
