// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedco/devstack/internal/container/containertest"
	"github.com/sharedco/devstack/internal/credentials"
	"github.com/sharedco/devstack/internal/logging"
	"github.com/sharedco/devstack/internal/models"
	"github.com/sharedco/devstack/internal/orchestrator"
)

func setup(t *testing.T) (*orchestrator.Orchestrator, *containertest.Backend) {
	t.Helper()
	store, err := credentials.Open(t.TempDir())
	require.NoError(t, err)
	fake := containertest.New()
	return orchestrator.New(fake, store, "shop", orchestrator.WithLogger(logging.Discard())), fake
}

func labels(service string) map[string]string {
	return map[string]string{orchestrator.LabelProject: "shop", orchestrator.LabelService: service}
}

func TestProjectClassifiesServices(t *testing.T) {
	orch, fake := setup(t)
	fake.Add("shop_postgres", true, labels("postgres"))
	fake.Add("shop_redis", false, labels("redis"))
	fake.Add("shop_kafka", true, labels("kafka"))
	fake.Add("other_postgres", true, nil)

	cfg := &models.ProjectConfig{Name: "shop", Services: []models.ServiceSpec{
		{Name: "postgres"}, {Name: "redis"}, {Name: "mongo"},
	}}
	res, err := Project(context.Background(), cfg, orch)
	require.NoError(t, err)

	assert.Equal(t, []string{"postgres"}, res.Running)
	assert.Equal(t, []string{"redis"}, res.Stopped)
	assert.Equal(t, []string{"mongo"}, res.Missing)
	assert.Equal(t, []Orphan{{Name: "shop_kafka", Service: "kafka", State: "running"}}, res.Orphans)
}

func TestRemoveOrphans(t *testing.T) {
	orch, fake := setup(t)
	fake.Add("shop_kafka", true, labels("kafka"))
	fake.Add("shop_nats", false, labels("nats"))

	n, err := RemoveOrphans(context.Background(), orch, []Orphan{
		{Name: "shop_kafka", Service: "kafka"},
		{Name: "shop_nats", Service: "nats"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, ok := fake.Container("shop_kafka")
	assert.False(t, ok)
}

func TestProjectListFailure(t *testing.T) {
	orch, fake := setup(t)
	fake.Errors["list"] = errors.New("daemon gone")

	_, err := Project(context.Background(), &models.ProjectConfig{Name: "shop"}, orch)
	assert.ErrorContains(t, err, "daemon gone")
}
