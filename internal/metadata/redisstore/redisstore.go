// Package redisstore 把元数据保存在 Redis 有序集合中：成员为缓存键，分值为毫秒时间戳。
// 适用于多个代理实例共享同一份缓存目录的部署。
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/any-hub/offline-hub/internal/metadata"
)

var _ metadata.Conn = (*Conn)(nil)

// Conn 包装一个 redis 客户端，key 固定为 `<cacheName>:timestamps`。
type Conn struct {
	client *redis.Client
	key    string
}

// New 基于已有客户端创建连接，并用 PING 校验可达性。
func New(ctx context.Context, client *redis.Client, cacheName string) (*Conn, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Conn{client: client, key: Key(cacheName)}, nil
}

// Key 返回 cacheName 对应的有序集合名。
func Key(cacheName string) string {
	return cacheName + ":timestamps"
}

// Opener 每次打开都新建客户端，出错的连接随 Close 一并释放。
func Opener(addr string, db int, cacheName string) metadata.Opener {
	return func(ctx context.Context) (metadata.Conn, error) {
		client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
		conn, err := New(ctx, client, cacheName)
		if err != nil {
			client.Close()
			return nil, err
		}
		return conn, nil
	}
}

func (c *Conn) Put(ctx context.Context, key string, ts time.Time) error {
	if err := c.client.ZAdd(ctx, c.key, redis.Z{Score: float64(ts.UnixMilli()), Member: key}).Err(); err != nil {
		return fmt.Errorf("zadd: %w", err)
	}
	return nil
}

func (c *Conn) Get(ctx context.Context, key string) (time.Time, bool, error) {
	score, err := c.client.ZScore(ctx, c.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("zscore: %w", err)
	}
	return time.UnixMilli(int64(score)), true, nil
}

// DeleteExpiredBefore 在 MULTI/EXEC 中同时读取并删除分值 <= threshold 的成员。
func (c *Conn) DeleteExpiredBefore(ctx context.Context, threshold time.Time) ([]string, error) {
	upper := strconv.FormatInt(threshold.UnixMilli(), 10)

	var expired *redis.StringSliceCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		expired = pipe.ZRangeByScore(ctx, c.key, &redis.ZRangeBy{Min: "-inf", Max: upper})
		pipe.ZRemRangeByScore(ctx, c.key, "-inf", upper)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("expire transaction: %w", err)
	}
	return expired.Val(), nil
}

func (c *Conn) Close() error {
	return c.client.Close()
}
