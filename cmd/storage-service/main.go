// cmd/storage-service/main.go
package main

import (
	"context"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"nexus-storage/internal/pkg/bootstrap"
	"nexus-storage/internal/pkg/logger"
	"nexus-storage/internal/pkg/mq"
	"nexus-storage/internal/pkg/redis"
	"nexus-storage/internal/pkg/zookeeper"
	"nexus-storage/internal/service/stock/application"
	"nexus-storage/internal/service/stock/client"
	"nexus-storage/internal/service/stock/domain"
	"nexus-storage/internal/service/stock/infrastructure/adapter"
	"nexus-storage/internal/service/stock/infrastructure/persistence"
	"nexus-storage/internal/service/stock/interfaces"
	"nexus-storage/internal/service/stock/port"
	"nexus-storage/internal/service/stock/readmodel"
)

func main() {
	cfg, err := bootstrap.Init()
	if err != nil {
		logger.L().Fatal().Err(err).Msg("❌ Failed to load configuration")
	}
	logger.Init(cfg.App.ServiceName, cfg.App.LogLevel)

	if err := run(cfg); err != nil {
		logger.L().Error().Err(err).Msg("❌ storage-service exited with error")
		os.Exit(1)
	}
}

func run(cfg *bootstrap.Config) error {
	serviceName := cfg.App.ServiceName
	stockCfg := cfg.App.Stock
	brokers := cfg.Infra.Kafka.Brokers
	groupID := cfg.Infra.Kafka.GroupID
	tracer := otel.Tracer(serviceName)

	var shutdown []func(ctx context.Context)

	// 1. 持久化
	db, err := persistence.OpenMySQL(cfg.Infra.MySQL)
	if err != nil {
		return err
	}
	shutdown = append(shutdown, closeDB(db))
	store := persistence.NewGormStore(db)

	// 2. Kafka 生产者：不绑定主题，由每条消息指定
	writer := mq.NewKafkaWriter(brokers, "")
	shutdown = append(shutdown, func(context.Context) { _ = writer.Close() })
	publisher := adapter.NewEventKafkaAdapter(writer)

	// 3. 应用服务
	engine := application.NewReservationEngine(store, publisher, tracer, stockCfg.ReservationTTL)
	reaper := application.NewExpiryReaper(store, publisher, tracer, stockCfg.ReaperInterval)
	if len(cfg.Infra.Zookeeper.Servers) > 0 {
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return err
		}
		shutdown = append(shutdown, func(context.Context) { conn.Close() })
		lock, err := zookeeper.NewDistributedLock(conn, "stock-reaper")
		if err != nil {
			return err
		}
		reaper.WithLeaderLock(lock)
	} else {
		logger.L().Warn().Msg("⚠️ ZOOKEEPER_SERVERS is not set. Reaper runs without leader election.")
	}

	// 4. 读模型
	view, projectionGroup, closeView, err := newStockView(cfg)
	if err != nil {
		return err
	}
	if closeView != nil {
		shutdown = append(shutdown, closeView)
	}
	entries, err := store.Stocks().ListAll(context.Background())
	if err != nil {
		return err
	}
	if err := view.Seed(context.Background(), entries); err != nil {
		return err
	}
	hub := interfaces.NewHub()

	// 5. 总线入口：每个主题 consumersPerTopic 个同组消费者
	gateway := interfaces.NewGateway(engine)
	dlt := mq.NewFailureHandler(writer, domain.TopicDeadLetter)
	workers := []bootstrap.Worker{hub.Run, reaper.Start}
	perTopic := cfg.Infra.Kafka.ConsumersPerTopic
	for _, topic := range interfaces.CommandTopics {
		runs := make([]func(context.Context) error, 0, perTopic)
		for i := 0; i < perTopic; i++ {
			runs = append(runs, interfaces.NewCommandConsumer(mq.NewKafkaReader(brokers, topic, groupID), gateway, dlt, tracer).Run)
		}
		workers = append(workers, interfaces.RunParallel(runs...))
	}
	for _, topic := range interfaces.RPCTopics {
		runs := make([]func(context.Context) error, 0, perTopic)
		for i := 0; i < perTopic; i++ {
			runs = append(runs, interfaces.NewRPCConsumer(mq.NewKafkaReader(brokers, topic, groupID), writer, gateway, tracer).Run)
		}
		workers = append(workers, interfaces.RunParallel(runs...))
	}
	workers = append(workers,
		interfaces.NewDltConsumer(mq.NewKafkaReader(brokers, domain.TopicDeadLetter, groupID+"-dlt")).Run,
		interfaces.NewProjectionConsumer(mq.NewKafkaGroupReader(brokers, domain.EventTopics, projectionGroup), view, hub).Run,
	)

	// 6. 测试接口使用的总线客户端
	var bus interfaces.BusClient
	if stockCfg.EnableTestAPI {
		rpcClient := client.NewClient(writer, client.NewReplyTopic(serviceName), stockCfg.RPCTimeout)
		replyReader := mq.NewKafkaReader(brokers, rpcClient.ReplyTopic(), rpcClient.ReplyTopic())
		workers = append(workers, func(ctx context.Context) error { return rpcClient.Listen(ctx, replyReader) })
		bus = rpcClient
	}
	handler := interfaces.NewStockHandler(view, hub, bus, reaper, stockCfg.EnableTestAPI)

	return bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		Workers:    workers,
		OnShutdown: shutdown,
	})
}

// newStockView 根据配置创建读模型，并返回投影消费者使用的消费组。
// 内存读模型每个副本都要收到全部事件，因此消费组按实例区分。
func newStockView(cfg *bootstrap.Config) (port.StockView, string, func(context.Context), error) {
	base := cfg.Infra.Kafka.GroupID + "-projection"
	switch strings.ToLower(cfg.App.Stock.ReadModel) {
	case "redis":
		rc, err := redis.NewClient(cfg.Infra.Redis.Addrs)
		if err != nil {
			return nil, "", nil, err
		}
		view, err := readmodel.NewRedisView(rc)
		if err != nil {
			_ = rc.Close()
			return nil, "", nil, err
		}
		return view, base, func(context.Context) { _ = rc.Close() }, nil
	default:
		return readmodel.NewMemoryView(), base + "-" + uuid.NewString()[:8], nil, nil
	}
}

func closeDB(db *gorm.DB) func(context.Context) {
	return func(context.Context) {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
