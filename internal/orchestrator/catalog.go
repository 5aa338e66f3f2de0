// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package orchestrator

import (
	"fmt"
	"strings"
)

// ServiceType is the well-known kind of a service, recognised from its name.
type ServiceType string

const (
	TypeGeneric       ServiceType = "generic"
	TypePostgres      ServiceType = "postgres"
	TypeMySQL         ServiceType = "mysql"
	TypeMongo         ServiceType = "mongo"
	TypeRedis         ServiceType = "redis"
	TypeRabbitMQ      ServiceType = "rabbitmq"
	TypeKafka         ServiceType = "kafka"
	TypeElasticsearch ServiceType = "elasticsearch"
	TypeMinio         ServiceType = "minio"
	TypeLocalstack    ServiceType = "localstack"
)

// DefaultUser and DefaultDatabase are injected into database services.
const (
	DefaultUser     = "devstack"
	DefaultDatabase = "devstack"
)

const defaultContainerPort = 8080

// typeMatchers is checked in order; "mongodb" must precede "mongo".
var typeMatchers = []struct {
	substr string
	typ    ServiceType
}{
	{"postgres", TypePostgres},
	{"mysql", TypeMySQL},
	{"mongodb", TypeMongo},
	{"mongo", TypeMongo},
	{"redis", TypeRedis},
	{"rabbitmq", TypeRabbitMQ},
	{"kafka", TypeKafka},
	{"elasticsearch", TypeElasticsearch},
	{"minio", TypeMinio},
	{"localstack", TypeLocalstack},
}

// TypeOf recognises a service type by substring of the service name.
func TypeOf(service string) ServiceType {
	lower := strings.ToLower(service)
	for _, m := range typeMatchers {
		if strings.Contains(lower, m.substr) {
			return m.typ
		}
	}
	return TypeGeneric
}

// imageTemplates maps exact service names to image references; %s is the
// version tag.
var imageTemplates = map[string]string{
	"postgres":      "postgres:%s",
	"redis":         "redis:%s",
	"mongodb":       "mongo:%s",
	"mongo":         "mongo:%s",
	"mysql":         "mysql:%s",
	"kafka":         "confluentinc/cp-kafka:%s",
	"rabbitmq":      "rabbitmq:%s-management",
	"elasticsearch": "elasticsearch:%s",
	"minio":         "minio/minio:%s",
	"localstack":    "localstack/localstack:%s",
}

var containerPorts = map[string]int{
	"postgres":      5432,
	"redis":         6379,
	"mongodb":       27017,
	"mongo":         27017,
	"mysql":         3306,
	"kafka":         9092,
	"rabbitmq":      5672,
	"elasticsearch": 9200,
	"minio":         9000,
	"localstack":    4566,
}

// ImageFor resolves the image reference for a service, falling back to
// name:version for services outside the table.
func ImageFor(service, version string) string {
	if version == "" {
		version = "latest"
	}
	if tmpl, ok := imageTemplates[service]; ok {
		return fmt.Sprintf(tmpl, version)
	}
	return service + ":" + version
}

// ContainerPortFor returns the port the service listens on inside its
// container.
func ContainerPortFor(service string) int {
	if p, ok := containerPorts[service]; ok {
		return p
	}
	return defaultContainerPort
}

// credentialRule describes the environment injected for one service type.
// Secret values come from the credential store under {service}_{suffix}.
type credentialRule struct {
	static  map[string]string
	secrets []secretVar
}

type secretVar struct {
	env       string
	keySuffix string
}

var credentialRules = map[ServiceType]credentialRule{
	TypePostgres: {
		static:  map[string]string{"POSTGRES_USER": DefaultUser, "POSTGRES_DB": DefaultDatabase},
		secrets: []secretVar{{"POSTGRES_PASSWORD", "POSTGRES_PASSWORD"}},
	},
	TypeMySQL: {
		static: map[string]string{"MYSQL_DATABASE": DefaultDatabase, "MYSQL_USER": DefaultUser},
		secrets: []secretVar{
			{"MYSQL_PASSWORD", "MYSQL_PASSWORD"},
			{"MYSQL_ROOT_PASSWORD", "MYSQL_ROOT_PASSWORD"},
		},
	},
	TypeMongo: {
		static:  map[string]string{"MONGO_INITDB_ROOT_USERNAME": DefaultUser},
		secrets: []secretVar{{"MONGO_INITDB_ROOT_PASSWORD", "MONGO_PASSWORD"}},
	},
	TypeRabbitMQ: {
		static:  map[string]string{"RABBITMQ_DEFAULT_USER": DefaultUser},
		secrets: []secretVar{{"RABBITMQ_DEFAULT_PASS", "RABBITMQ_PASSWORD"}},
	},
	TypeMinio: {
		static:  map[string]string{"MINIO_ROOT_USER": DefaultUser},
		secrets: []secretVar{{"MINIO_ROOT_PASSWORD", "MINIO_PASSWORD"}},
	},
}

// CredentialKey is the credential store key for a service secret, e.g.
// "app_POSTGRES_PASSWORD".
func CredentialKey(service, suffix string) string {
	return service + "_" + suffix
}

// Credentials describes the login a client needs for a service.
type Credentials struct {
	User     string
	Database string
	// PasswordKey is the credential store key of the password, empty when
	// the service has none.
	PasswordKey string
	// PasswordEnv is the container variable carrying the password.
	PasswordEnv string
}

// CredentialsFor returns the injected login for service.
func CredentialsFor(service string) Credentials {
	typ := TypeOf(service)
	rule, ok := credentialRules[typ]
	if !ok {
		return Credentials{}
	}
	c := Credentials{User: DefaultUser}
	if typ == TypePostgres || typ == TypeMySQL {
		c.Database = DefaultDatabase
	}
	if len(rule.secrets) > 0 {
		c.PasswordKey = CredentialKey(service, rule.secrets[0].keySuffix)
		c.PasswordEnv = rule.secrets[0].env
	}
	return c
}
