// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"nexus-storage/internal/pkg/logger"
	"nexus-storage/internal/pkg/nacos"
	"nexus-storage/internal/pkg/tracing"
)

type AppCtx struct {
	Mux    *http.ServeMux
	Config *Config
}

// Worker 是随服务一起启动的后台任务（Kafka 消费者、定时清理等）。
// ctx 在收到退出信号后被取消，任务应尽快返回。
type Worker func(ctx context.Context) error

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 允许每个服务注册自己独特的 HTTP 路由
	Workers          []Worker
	OnShutdown       []func(ctx context.Context) // 按注册的逆序执行
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
// 阻塞直到收到 SIGINT/SIGTERM 或任一 Worker 返回错误。
func StartService(info AppInfo) error {
	cfg := GetCurrentConfig()

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SampleRatio)
	if err != nil {
		return err
	}

	// 2. 服务注册（可选）
	var registry nacos.Registry
	var ip string
	if cfg.Infra.Nacos.ServerAddrs != "" {
		client, err := nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			return err
		}
		defer client.Close()
		if ip, err = GetOutboundIP(); err != nil {
			return err
		}
		if err := client.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			return err
		}
		registry = client
	} else {
		logger.L().Warn().Msg("⚠️ NACOS_SERVER_ADDRS is not set. Skipping service registration.")
	}

	// 3. HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.L().Info().Msgf("%s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	for _, w := range info.Workers {
		w := w
		g.Go(func() error { return w(gctx) })
	}

	// 4. 阻塞主 goroutine，直到接收到退出信号或某个任务失败
	<-gctx.Done()
	logger.L().Info().Msgf("Shutting down service %s...", info.ServiceName)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 5. 按顺序执行清理操作 (后进先出)
	if registry != nil {
		if err := registry.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			logger.L().Error().Err(err).Msg("Error deregistering from Nacos")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.L().Error().Err(err).Msg("Error shutting down http server")
	}
	runErr := g.Wait()
	for i := len(info.OnShutdown) - 1; i >= 0; i-- {
		info.OnShutdown[i](shutdownCtx)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.L().Error().Err(err).Msg("Error shutting down tracer provider")
	}

	logger.L().Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// GetOutboundIP 通过一次 UDP "拨号" 获取本机对外的 IP，不会真正发送数据。
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
