// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeOf(t *testing.T) {
	tests := []struct {
		name string
		want ServiceType
	}{
		{"postgres", TypePostgres},
		{"orders-postgres", TypePostgres},
		{"MySQL", TypeMySQL},
		{"mongodb", TypeMongo},
		{"mongo", TypeMongo},
		{"session-redis", TypeRedis},
		{"rabbitmq", TypeRabbitMQ},
		{"minio", TypeMinio},
		{"api", TypeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TypeOf(tt.name))
		})
	}
}

func TestImageFor(t *testing.T) {
	assert.Equal(t, "postgres:16", ImageFor("postgres", "16"))
	assert.Equal(t, "mongo:7", ImageFor("mongodb", "7"))
	assert.Equal(t, "rabbitmq:3-management", ImageFor("rabbitmq", "3"))
	assert.Equal(t, "confluentinc/cp-kafka:latest", ImageFor("kafka", ""))
	assert.Equal(t, "myapp:1.2", ImageFor("myapp", "1.2"))
}

func TestContainerPortFor(t *testing.T) {
	assert.Equal(t, 5432, ContainerPortFor("postgres"))
	assert.Equal(t, 6379, ContainerPortFor("redis"))
	assert.Equal(t, 4566, ContainerPortFor("localstack"))
	assert.Equal(t, 8080, ContainerPortFor("api"))
}

func TestCredentialsFor(t *testing.T) {
	pg := CredentialsFor("postgres")
	assert.Equal(t, Credentials{
		User:        "devstack",
		Database:    "devstack",
		PasswordKey: "postgres_POSTGRES_PASSWORD",
		PasswordEnv: "POSTGRES_PASSWORD",
	}, pg)

	mongo := CredentialsFor("mongodb")
	assert.Equal(t, "mongodb_MONGO_PASSWORD", mongo.PasswordKey)
	assert.Empty(t, mongo.Database)

	assert.Equal(t, Credentials{}, CredentialsFor("redis"))
}
