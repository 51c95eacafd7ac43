// Package consul provides routing fragments stored in Consul KV under a
// prefix, one fragment per key, using blocking queries.
package consul

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/logging"
	"github.com/wudi/verkehr/internal/provider"
)

const (
	defaultPrefix   = "verkehr/"
	defaultWaitTime = 30 * time.Second
)

// Provider watches a KV prefix.
type Provider struct {
	kv         *consulapi.KV
	prefix     string
	datacenter string
	waitTime   time.Duration

	newBackOff func() backoff.BackOff
}

func New(cfg config.ConsulProviderConfig) (*Provider, error) {
	consulCfg := consulapi.DefaultConfig()
	if cfg.Address != "" {
		consulCfg.Address = cfg.Address
	}
	if cfg.Scheme != "" {
		consulCfg.Scheme = cfg.Scheme
	}
	consulCfg.Datacenter = cfg.Datacenter
	if cfg.Token != "" {
		consulCfg.Token = cfg.Token
	}

	client, err := consulapi.NewClient(consulCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consul client: %w", err)
	}

	prefix := strings.TrimPrefix(cfg.Prefix, "/")
	if prefix == "" {
		prefix = defaultPrefix
	}
	waitTime := cfg.WaitTime
	if waitTime == 0 {
		waitTime = defaultWaitTime
	}
	return &Provider{
		kv:         client.KV(),
		prefix:     prefix,
		datacenter: cfg.Datacenter,
		waitTime:   waitTime,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = time.Second
			bo.MaxInterval = 30 * time.Second
			bo.MaxElapsedTime = 0
			return bo
		},
	}, nil
}

func (p *Provider) Name() string { return "consul" }

// Provide runs blocking List queries on the prefix and merges, in key
// order, every pair whose ModifyIndex advanced since it was last seen.
// Query errors are retried with backoff.
func (p *Provider) Provide(ctx context.Context, m provider.Merger) error {
	bo := p.newBackOff()
	modified := make(map[string]uint64)
	var lastIndex uint64

	for ctx.Err() == nil {
		opts := (&consulapi.QueryOptions{
			Datacenter: p.datacenter,
			WaitIndex:  lastIndex,
			WaitTime:   p.waitTime,
		}).WithContext(ctx)

		pairs, meta, err := p.kv.List(p.prefix, opts)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			wait := bo.NextBackOff()
			logging.Warn("consul provider query failed, retrying",
				zap.String("prefix", p.prefix),
				zap.Duration("retry_in", wait),
				zap.Error(err),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}
			continue
		}
		bo.Reset()

		switch {
		case meta.LastIndex < lastIndex:
			// the index went backwards (snapshot restore): resync
			lastIndex = 0
			clear(modified)
			continue
		case meta.LastIndex == lastIndex:
			continue
		}
		lastIndex = meta.LastIndex

		p.applyChanged(m, pairs, modified)
	}
	return nil
}

func (p *Provider) applyChanged(m provider.Merger, pairs consulapi.KVPairs, modified map[string]uint64) {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	for _, pair := range pairs {
		if strings.HasSuffix(pair.Key, "/") || len(pair.Value) == 0 {
			continue
		}
		if seen, ok := modified[pair.Key]; ok && pair.ModifyIndex <= seen {
			continue
		}
		modified[pair.Key] = pair.ModifyIndex
		// rejections are logged and counted by the store
		provider.Apply(m, p.Name(), pair.Key, pair.Value)
	}
}
