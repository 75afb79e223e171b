package client

import (
	"context"
	"fmt"
	"net/http"

	"nexus-storage/internal/pkg/httpclient"
	"nexus-storage/internal/service/stock/domain"
)

// AdminClient 通过 HTTP 访问库存服务的只读视图和运维接口。
// target 可以是完整 URL，也可以是注册中心里的服务名。
type AdminClient struct {
	http   *httpclient.Client
	target string
}

func NewAdminClient(hc *httpclient.Client, target string) *AdminClient {
	return &AdminClient{http: hc, target: target}
}

// List 返回读模型中的全部库存。
func (a *AdminClient) List(ctx context.Context) ([]domain.FullItem, error) {
	var items []domain.FullItem
	if err := a.do(ctx, http.MethodGet, "/stock", &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (a *AdminClient) Get(ctx context.Context, itemID int64) (domain.FullItem, error) {
	var item domain.FullItem
	err := a.do(ctx, http.MethodGet, fmt.Sprintf("/stock/%d", itemID), &item)
	return item, err
}

// Sweep 立即触发一次过期预占回收，返回被释放的行。
func (a *AdminClient) Sweep(ctx context.Context) ([]domain.EventItem, error) {
	var resp struct {
		Released []domain.EventItem `json:"released"`
	}
	if err := a.do(ctx, http.MethodPost, "/admin/reaper/sweep", &resp); err != nil {
		return nil, err
	}
	return resp.Released, nil
}

func (a *AdminClient) do(ctx context.Context, method, path string, out interface{}) error {
	base, err := a.http.BaseURL(a.target)
	if err != nil {
		return err
	}
	return a.http.DoJSON(ctx, method, base+path, nil, out)
}
