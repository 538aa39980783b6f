package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"crypto-payment-gateway/config"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactor_BeginReadCommitted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	mock.ExpectCommit()

	tx, err := NewTransactor(mock).Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_BeginError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(intentTxOptions).WillReturnError(errors.New("too many connections"))

	_, err = NewTransactor(mock).Begin(context.Background())
	assert.ErrorContains(t, err, "begin read committed tx")
	assert.ErrorContains(t, err, "too many connections")
}

func TestPoolConfig(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:             "db",
		Port:             5432,
		User:             "gateway",
		Password:         "secret",
		DBName:           "payments",
		SSLMode:          "disable",
		MaxConns:         12,
		MinConns:         3,
		ConnMaxLifetime:  30 * time.Minute,
		StatementTimeout: 5 * time.Second,
	}

	poolCfg, err := poolConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(12), poolCfg.MaxConns)
	assert.Equal(t, int32(3), poolCfg.MinConns)
	assert.Equal(t, 30*time.Minute, poolCfg.MaxConnLifetime)
	assert.Equal(t, "payments", poolCfg.ConnConfig.Database)
	assert.Equal(t, applicationName, poolCfg.ConnConfig.RuntimeParams["application_name"])
	assert.Equal(t, "5000", poolCfg.ConnConfig.RuntimeParams["statement_timeout"])
}

func TestPoolConfig_MinAboveMaxIgnored(t *testing.T) {
	poolCfg, err := poolConfig(config.DatabaseConfig{
		Host: "db", Port: 5432, User: "u", DBName: "d", SSLMode: "disable",
		MaxConns: 2, MinConns: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, int32(0), poolCfg.MinConns)
	_, ok := poolCfg.ConnConfig.RuntimeParams["statement_timeout"]
	assert.False(t, ok)
}
