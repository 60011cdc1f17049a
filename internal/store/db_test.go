package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_NoDSNReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := New(context.Background(), "")
	assert.Error(t, err)
}

func TestNew_InvalidDSNReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := New(context.Background(), "not a valid dsn://::")
	assert.Error(t, err)
}

func TestDB_PingWithNoPool(t *testing.T) {
	db := &DB{}
	err := db.Ping(context.Background())
	assert.Error(t, err)
}

func TestDB_CloseIsSafeOnZeroValue(t *testing.T) {
	db := &DB{}
	assert.NotPanics(t, func() { db.Close() })
}
