package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, "'UTC'", quoteLiteral("UTC"))
	assert.Equal(t, "'America/Sao_Paulo'", quoteLiteral("America/Sao_Paulo"))
	assert.Equal(t, "'it''s'", quoteLiteral("it's"))
}

func TestConnectRejectsUnreachable(t *testing.T) {
	_, err := Connect(Config{DSN: "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"})
	assert.Error(t, err)
}
