// Package etcd provides routing fragments stored under an etcd prefix,
// one fragment per key.
package etcd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/logging"
	"github.com/wudi/verkehr/internal/provider"
)

const defaultPrefix = "/verkehr/"

// KV is the part of the etcd client the provider uses.
type KV interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan
}

// Provider syncs every key under a prefix.
type Provider struct {
	kv     KV
	client *clientv3.Client
	prefix string

	newBackOff func() backoff.BackOff
}

// New creates an etcd client. Connections are established lazily.
func New(cfg config.EtcdProviderConfig) (*Provider, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd provider: no endpoints")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}
	etcdCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
		Logger:      logging.Global().Named("etcd"),
	}
	if cfg.Username != "" {
		etcdCfg.Username = cfg.Username
		etcdCfg.Password = cfg.Password
	}
	client, err := clientv3.New(etcdCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	p := NewWithKV(client, cfg.Prefix)
	p.client = client
	return p, nil
}

// NewWithKV builds a provider over an existing KV.
func NewWithKV(kv KV, prefix string) *Provider {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Provider{
		kv:     kv,
		prefix: prefix,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxInterval = 30 * time.Second
			bo.MaxElapsedTime = 0 // never give up
			return bo
		},
	}
}

func (p *Provider) Name() string { return "etcd" }

// Provide merges every key under the prefix in key order, then every PUT
// seen by a watch from the next revision. A failed sync or a broken watch
// starts over after a backoff delay.
func (p *Provider) Provide(ctx context.Context, m provider.Merger) error {
	bo := p.newBackOff()
	for {
		err := p.syncAndWatch(ctx, m, bo)
		if ctx.Err() != nil {
			return nil
		}
		wait := bo.NextBackOff()
		logging.Warn("etcd provider disconnected, reconnecting",
			zap.String("prefix", p.prefix),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Provider) syncAndWatch(ctx context.Context, m provider.Merger, bo backoff.BackOff) error {
	resp, err := p.kv.Get(ctx, p.prefix,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
	)
	if err != nil {
		return fmt.Errorf("get %s: %w", p.prefix, err)
	}
	for _, kv := range resp.Kvs {
		p.apply(m, string(kv.Key), kv.Value)
	}
	bo.Reset()

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// from the revision right after the Get
	watch := p.kv.Watch(clientv3.WithRequireLeader(wctx), p.prefix,
		clientv3.WithPrefix(),
		clientv3.WithRev(resp.Header.Revision+1),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case wr, ok := <-watch:
			if !ok {
				return errors.New("watch channel closed")
			}
			if err := wr.Err(); err != nil {
				return fmt.Errorf("watch %s: %w", p.prefix, err)
			}
			for _, ev := range wr.Events {
				if ev.Type != clientv3.EventTypePut {
					// deleting a key does not retract its fragment
					continue
				}
				p.apply(m, string(ev.Kv.Key), ev.Kv.Value)
			}
		}
	}
}

func (p *Provider) apply(m provider.Merger, key string, value []byte) {
	if strings.TrimSpace(string(value)) == "" {
		return
	}
	// rejections are logged and counted by the store
	provider.Apply(m, p.Name(), key, value)
}

// Close closes the etcd client, if the provider owns one.
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
