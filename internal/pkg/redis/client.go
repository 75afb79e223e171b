// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"nexus-storage/internal/pkg/logger"
)

// Client 封装了 go-redis 的 UniversalClient，并管理预加载的 Lua 脚本。
// 地址只有一个时使用单机模式，多个地址时自动切换为集群模式。
type Client struct {
	client  goredis.UniversalClient
	scripts map[string]*goredis.Script
	mu      sync.RWMutex
}

// NewClient 创建客户端并执行一次 PING 检查连通性。
// addrs 格式为 "host1:port1,host2:port2"。
func NewClient(addrs string) (*Client, error) {
	list := strings.Split(addrs, ",")
	uc := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        list,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := uc.Ping(ctx).Err(); err != nil {
		_ = uc.Close()
		return nil, errors.Wrapf(err, "ping redis %s", addrs)
	}

	logger.L().Info().Strs("addrs", list).Msg("✅ Successfully connected to Redis.")
	return NewFromUniversal(uc), nil
}

// NewFromUniversal 用已有的 go-redis 客户端构造 Client（测试中配合 miniredis 使用）。
func NewFromUniversal(uc goredis.UniversalClient) *Client {
	return &Client{
		client:  uc,
		scripts: make(map[string]*goredis.Script),
	}
}

// LoadScriptFromContent 注册并预加载一个 Lua 脚本。
func (c *Client) LoadScriptFromContent(name, content string) error {
	script := goredis.NewScript(content)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := script.Load(ctx, c.client).Err(); err != nil {
		return errors.Wrapf(err, "load lua script %q", name)
	}

	c.mu.Lock()
	c.scripts[name] = script
	c.mu.Unlock()
	return nil
}

// RunScript 执行已注册的脚本。EvalSha 未命中时 go-redis 会自动回退到 Eval。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("lua script %q is not loaded", name)
	}
	return script.Run(ctx, c.client, keys, args...).Result()
}

// GetClient 暴露底层客户端，用于 pipeline 等高级操作。
func (c *Client) GetClient() goredis.UniversalClient {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}
