// Package rediscache is the read-through cache of rendered receipt documents.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
)

const defaultTTL = 24 * time.Hour

type ReceiptCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ fee.ReceiptCache = (*ReceiptCache)(nil) // interface compliance check

// Open connects to redis and checks the connection.
func Open(ctx context.Context, conf *core.Config) (*ReceiptCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            conf.Redis.Addr,
		Password:        conf.Redis.Password,
		DB:              conf.Redis.DB,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return NewReceiptCache(client, conf.Redis.ReceiptTTL), nil
}

func NewReceiptCache(client *redis.Client, ttl time.Duration) *ReceiptCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &ReceiptCache{client: client, ttl: ttl}
}

func Key(studentID, receiptNumber string) string {
	return fmt.Sprintf("receipt:v1:%s:%s", studentID, receiptNumber)
}

func (c *ReceiptCache) GetReceipt(ctx context.Context, studentID, receiptNumber string) (fee.ReceiptDocument, bool, error) {
	data, err := c.client.Get(ctx, Key(studentID, receiptNumber)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return fee.ReceiptDocument{}, false, nil
		}
		return fee.ReceiptDocument{}, false, errors.Wrap(err, "cache get")
	}

	var doc fee.ReceiptDocument
	if err = json.Unmarshal(data, &doc); err != nil {
		return fee.ReceiptDocument{}, false, errors.Wrap(err, "decoding cached receipt")
	}
	return doc, true, nil
}

// SetReceipt stores doc. Receipts never change once minted so entries only expire.
func (c *ReceiptCache) SetReceipt(ctx context.Context, doc fee.ReceiptDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encoding receipt")
	}
	return c.client.Set(ctx, Key(doc.StudentID, doc.ReceiptNo), data, c.ttl).Err()
}

func (c *ReceiptCache) Close() error {
	return c.client.Close()
}
