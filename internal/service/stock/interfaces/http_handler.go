// internal/service/stock/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"nexus-storage/internal/pkg/logger"
	"nexus-storage/internal/service/stock/client"
	"nexus-storage/internal/service/stock/domain"
	"nexus-storage/internal/service/stock/port"
)

// BusClient 是测试接口使用的总线调用方，由 client.Client 实现。
type BusClient interface {
	Restock(ctx context.Context, items []domain.LineItem) error
	Confirm(ctx context.Context, items []domain.LineItem) error
	Cancel(ctx context.Context, items []domain.LineItem) error
	Reserve(ctx context.Context, items []domain.LineItem) (*domain.ReserveResponse, error)
	CheckActiveReservations(ctx context.Context, items []domain.LineItem) (*domain.CheckResponse, error)
}

// Sweeper 由 application.ExpiryReaper 实现。
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) ([]domain.EventItem, error)
}

// StockHandler 封装了库存服务的 HTTP 处理器
type StockHandler struct {
	view    port.StockView
	hub     *Hub
	bus     BusClient
	reaper  Sweeper
	testAPI bool
}

// NewStockHandler 创建 HTTP 处理器。bus 为 nil 或 testAPI 为 false 时不注册 /test-stock 接口。
func NewStockHandler(view port.StockView, hub *Hub, bus BusClient, reaper Sweeper, testAPI bool) *StockHandler {
	return &StockHandler{view: view, hub: hub, bus: bus, reaper: reaper, testAPI: testAPI}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *StockHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /stock", h.handleListStock)
	mux.HandleFunc("GET /stock/{itemId}", h.handleGetStock)
	if h.hub != nil {
		mux.HandleFunc("GET /ws/stock", h.hub.ServeWs)
	}
	if h.reaper != nil {
		mux.HandleFunc("POST /admin/reaper/sweep", h.handleSweep)
	}
	if h.testAPI && h.bus != nil {
		mux.HandleFunc("POST /test-stock/{op}", h.handleTestStock)
	}
}

func (h *StockHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *StockHandler) handleListStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.view.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toFullItems(items))
}

func (h *StockHandler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(r.PathValue("itemId"), 10, 64)
	if err != nil {
		http.Error(w, "invalid itemId", http.StatusBadRequest)
		return
	}
	item, ok, err := h.view.Get(r.Context(), itemID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "stock not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toFullItems([]domain.EventItem{item})[0])
}

func (h *StockHandler) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	released, err := h.reaper.Sweep(ctx, time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if released == nil {
		released = []domain.EventItem{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"released": released})
}

// handleTestStock 通过总线发起一次请求，行为与真实调用方一致。
func (h *StockHandler) handleTestStock(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var items []domain.LineItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var (
		resp interface{}
		err  error
	)
	switch op := r.PathValue("op"); op {
	case "restock":
		err = h.bus.Restock(ctx, items)
		resp = map[string]string{"message": "Restock sent"}
	case "confirm":
		err = h.bus.Confirm(ctx, items)
		resp = map[string]string{"message": "Confirm sent"}
	case "cancel":
		err = h.bus.Cancel(ctx, items)
		resp = map[string]string{"message": "Cancel sent"}
	case "reserve":
		resp, err = h.bus.Reserve(ctx, items)
	case "check":
		resp, err = h.bus.CheckActiveReservations(ctx, items)
	default:
		http.Error(w, "unknown operation "+op, http.StatusNotFound)
		return
	}
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, client.ErrRPCTimeout) {
			status = http.StatusGatewayTimeout
		}
		logger.Ctx(ctx).Warn().Err(err).Str("op", r.PathValue("op")).Msg("test-stock request failed")
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func toFullItems(items []domain.EventItem) []domain.FullItem {
	out := make([]domain.FullItem, 0, len(items))
	for _, it := range items {
		out = append(out, domain.FullItem{ItemID: it.ItemID, Total: it.Total, Reserved: it.Reserved})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L().Warn().Err(err).Msg("failed to write json response")
	}
}
