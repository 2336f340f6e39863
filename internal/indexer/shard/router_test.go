package shard

import (
	"context"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/election"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/queue"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := *config.Default()
	cfg.Indexer.DataDir = t.TempDir()
	cfg.Indexer.CommitDebounce = time.Hour
	cfg.Indexer.CommitMaxAge = time.Hour
	cfg.Indexer.Indexes = []config.IndexConfig{
		{Name: "products"},
		{Name: "reviews", Engine: config.EnginePebble},
	}
	cfg.Election.Identity = "router-test"
	return cfg
}

func TestRouterRunsEveryIndex(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	checker := health.NewChecker()
	r, err := NewRouter(ctx, cfg, Deps{Health: checker})
	require.NoError(t, err)

	assert.Equal(t, []string{"products", "reviews"}, r.Names())
	for _, name := range r.Names() {
		ix, err := r.Route(name)
		require.NoError(t, err)
		assert.True(t, ix.IsExecutive())
		require.NoError(t, ix.IndexItems(ctx, queue.Of(queue.Add("1", "", map[string][]string{"body": {name}}))))
		require.NoError(t, ix.WaitIdle(ctx))
	}
	require.NoError(t, r.FlushAll(ctx))

	ix, err := r.Route("reviews")
	require.NoError(t, err)
	rd, err := ix.Reader(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rd.DocCount())
	require.NoError(t, rd.Close())

	_, err = r.Route("missing")
	assert.Equal(t, apperrors.KindData, apperrors.Classify(err))

	assert.Equal(t, health.StatusUp, checker.Run(ctx).Status)
	require.NoError(t, r.Close(ctx))
	assert.Empty(t, r.Names())
}

func TestRouterFileElection(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Election.Mode = config.ElectionFile
	cfg.Election.Dir = t.TempDir()

	claims, err := ClaimStores(cfg.Election, nil, nil)
	require.NoError(t, err)
	leader, err := NewRouter(ctx, cfg, Deps{Claims: claims})
	require.NoError(t, err)
	defer leader.Close(ctx)

	cfg.Election.Identity = "router-follower"
	follower, err := NewRouter(ctx, cfg, Deps{Claims: claims})
	require.NoError(t, err)
	defer follower.Close(ctx)

	lead, err := leader.Route("products")
	require.NoError(t, err)
	follow, err := follower.Route("products")
	require.NoError(t, err)
	assert.True(t, lead.IsExecutive())
	assert.False(t, follow.IsExecutive())
	assert.Equal(t, "router-test", follow.Executive())

	store, err := claims("products")
	require.NoError(t, err)
	rec, ok, err := store.Get(ctx, election.ClaimKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "router-test", rec.Owner)
}

func TestClaimStoresRequiresBackends(t *testing.T) {
	_, err := ClaimStores(config.ElectionConfig{Mode: config.ElectionRedis}, nil, nil)
	assert.Error(t, err)
	_, err = ClaimStores(config.ElectionConfig{Mode: config.ElectionPostgres}, nil, nil)
	assert.Error(t, err)
	_, err = ClaimStores(config.ElectionConfig{Mode: "zookeeper"}, nil, nil)
	assert.Error(t, err)
}
