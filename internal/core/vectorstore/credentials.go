// Package vectorstore keeps chunk embeddings in Postgres with pgvector.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/markdave123-py/ragready/internal/apperr"
)

// CredentialSource resolves the connection string for the vector database.
type CredentialSource interface {
	DSN(ctx context.Context) (string, error)
}

// StaticDSN is a connection string taken from DATABASE_URL.
type StaticDSN string

func (s StaticDSN) DSN(context.Context) (string, error) {
	if s == "" {
		return "", apperr.Config("vector store", "DATABASE_URL is empty")
	}
	return string(s), nil
}

// SecretsAPI is the part of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerSource reads an RDS-style JSON secret.
type SecretsManagerSource struct {
	api      SecretsAPI
	secretID string
}

func NewSecretsManagerSource(api SecretsAPI, secretID string) *SecretsManagerSource {
	return &SecretsManagerSource{api: api, secretID: secretID}
}

type rdsSecret struct {
	Username string          `json:"username"`
	Password string          `json:"password"`
	Host     string          `json:"host"`
	Port     json.RawMessage `json:"port"`
	DBName   string          `json:"dbname"`
}

func (s *SecretsManagerSource) DSN(ctx context.Context) (string, error) {
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(s.secretID)})
	if err != nil {
		return "", apperr.Transient("get db secret", err)
	}
	return dsnFromSecret(aws.ToString(out.SecretString))
}

func dsnFromSecret(raw string) (string, error) {
	var sec rdsSecret
	if err := json.Unmarshal([]byte(raw), &sec); err != nil {
		return "", apperr.Config("db secret", "secret is not valid JSON")
	}
	if sec.Host == "" || sec.Username == "" {
		return "", apperr.Config("db secret", "secret is missing host or username")
	}
	// RDS writes port as a number, hand-made secrets often use a string.
	port := "5432"
	if len(sec.Port) > 0 {
		var n int
		if err := json.Unmarshal(sec.Port, &n); err == nil {
			port = strconv.Itoa(n)
		} else {
			var s string
			if err := json.Unmarshal(sec.Port, &s); err == nil && s != "" {
				port = s
			}
		}
	}
	if sec.DBName == "" {
		sec.DBName = "postgres"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(sec.Username, sec.Password),
		Host:     net.JoinHostPort(sec.Host, port),
		Path:     "/" + sec.DBName,
		RawQuery: "sslmode=require",
	}
	return u.String(), nil
}

func (s *SecretsManagerSource) String() string {
	return fmt.Sprintf("secretsmanager(%s)", s.secretID)
}
