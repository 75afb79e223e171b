// cmd/stockctl/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"

	"nexus-storage/internal/pkg/bootstrap"
	"nexus-storage/internal/pkg/httpclient"
	"nexus-storage/internal/pkg/logger"
	"nexus-storage/internal/pkg/nacos"
	"nexus-storage/internal/service/stock/client"
)

const usage = `usage: stockctl [flags] <command>

commands:
  list          print every item in the stock view
  get <itemId>  print one item
  sweep         release expired reservations now

flags:
`

func main() {
	cfg := bootstrap.GetCurrentConfig()
	addr := flag.String("addr", "", "storage-service base URL, e.g. http://localhost:8090 (default: discover via Nacos)")
	nacosAddrs := flag.String("nacos", os.Getenv("NACOS_SERVER_ADDRS"), "Nacos server addresses used for discovery")
	service := flag.String("service", cfg.App.ServiceName, "service name registered in Nacos")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	logger.Init("stockctl", "warn")

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var resolver httpclient.Resolver
	target := *addr
	if target == "" {
		if *nacosAddrs == "" {
			logger.L().Fatal().Msg("❌ either -addr or -nacos must be set")
		}
		nc, err := nacos.NewNacosClient(*nacosAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			logger.L().Fatal().Err(err).Msg("❌ Failed to connect to Nacos")
		}
		defer nc.Close()
		resolver = nc
		target = *service
	}

	admin := client.NewAdminClient(httpclient.NewClient(otel.Tracer("stockctl"), resolver), target)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := dispatch(ctx, admin, flag.Args())
	if err != nil {
		logger.L().Error().Err(err).Strs("args", flag.Args()).Msg("❌ stockctl command failed")
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
}

func dispatch(ctx context.Context, admin *client.AdminClient, args []string) (interface{}, error) {
	switch args[0] {
	case "list":
		return admin.List(ctx)
	case "get":
		if len(args) != 2 {
			return nil, fmt.Errorf("get needs exactly one itemId")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid itemId %q: %w", args[1], err)
		}
		return admin.Get(ctx, id)
	case "sweep":
		return admin.Sweep(ctx)
	default:
		return nil, fmt.Errorf("unknown command %q", args[0])
	}
}
