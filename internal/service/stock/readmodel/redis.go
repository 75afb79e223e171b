package readmodel

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"nexus-storage/internal/pkg/metrics"
	"nexus-storage/internal/pkg/redis"
	"nexus-storage/internal/service/stock/domain"
)

const (
	scriptApply = "stock_view_apply"
	// 同一个 hash tag，保证集群模式下脚本涉及的 key 落在同一个槽
	idsKey = "{stock_view}:ids"
)

// applyLua 只在新版本号大于已存储版本号时覆盖，返回 1 表示已应用。
const applyLua = `
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'total', ARGV[2], 'reserved', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
return 1
`

func itemKey(itemID int64) string {
	return fmt.Sprintf("{stock_view}:item:%d", itemID)
}

// RedisView 把库存副本存放在 Redis 中，多个服务副本共享同一份视图。
type RedisView struct {
	client *redis.Client
}

// NewRedisView 预加载版本比较脚本。
func NewRedisView(client *redis.Client) (*RedisView, error) {
	if err := client.LoadScriptFromContent(scriptApply, applyLua); err != nil {
		return nil, err
	}
	return &RedisView{client: client}, nil
}

func (v *RedisView) Apply(ctx context.Context, items []domain.EventItem) ([]domain.EventItem, error) {
	var applied []domain.EventItem
	for _, it := range items {
		res, err := v.client.RunScript(ctx, scriptApply,
			[]string{itemKey(it.ItemID), idsKey},
			it.Version, it.Total, it.Reserved, it.ItemID)
		if err != nil {
			return applied, errors.Wrapf(err, "apply stock view item %d", it.ItemID)
		}
		if n, _ := res.(int64); n == 1 {
			applied = append(applied, it)
			metrics.ReadModelApplied.WithLabelValues("applied").Inc()
		} else {
			metrics.ReadModelApplied.WithLabelValues("stale").Inc()
		}
	}
	return applied, nil
}

func (v *RedisView) Seed(ctx context.Context, entries []domain.StockEntry) error {
	_, err := v.Apply(ctx, fromEntries(entries))
	return err
}

func (v *RedisView) Get(ctx context.Context, itemID int64) (domain.EventItem, bool, error) {
	fields, err := v.client.GetClient().HGetAll(ctx, itemKey(itemID)).Result()
	if err != nil {
		return domain.EventItem{}, false, errors.Wrapf(err, "get stock view item %d", itemID)
	}
	if len(fields) == 0 {
		return domain.EventItem{}, false, nil
	}
	it, err := parseItem(itemID, fields)
	return it, err == nil, err
}

func (v *RedisView) List(ctx context.Context) ([]domain.EventItem, error) {
	rdb := v.client.GetClient()
	members, err := rdb.SMembers(ctx, idsKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list stock view ids")
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err = rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, itemKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "read stock view items")
	}

	out := make([]domain.EventItem, 0, len(ids))
	for i, id := range ids {
		it, err := parseItem(id, cmds[i].Val())
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func parseItem(itemID int64, fields map[string]string) (domain.EventItem, error) {
	it := domain.EventItem{ItemID: itemID}
	var err error
	if it.Total, err = strconv.Atoi(fields["total"]); err != nil {
		return it, errors.Wrapf(err, "parse total of item %d", itemID)
	}
	if it.Reserved, err = strconv.Atoi(fields["reserved"]); err != nil {
		return it, errors.Wrapf(err, "parse reserved of item %d", itemID)
	}
	if it.Version, err = strconv.ParseInt(fields["version"], 10, 64); err != nil {
		return it, errors.Wrapf(err, "parse version of item %d", itemID)
	}
	return it, nil
}
