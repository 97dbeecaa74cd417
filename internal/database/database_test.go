package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/jobby-messaging/internal/models"
)

func TestConnectSQLiteMigrates(t *testing.T) {
	db, err := Connect("sqlite", "file:database_test?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	require.True(t, db.Migrator().HasTable(&models.UserRecord{}))
	require.True(t, db.Migrator().HasTable(&models.ConversationRecord{}))
	require.True(t, db.Migrator().HasTable(&models.MessageRecord{}))
}

func TestConnectRejectsUnknownDriver(t *testing.T) {
	_, err := Connect("mysql", "dsn")
	require.Error(t, err)

	_, err = ConnectPostgres("")
	require.Error(t, err)
}

func TestConnectRedis(t *testing.T) {
	server := miniredis.RunT(t)

	client, err := ConnectRedis(context.Background(), "redis://"+server.Addr())
	require.NoError(t, err)
	defer client.Close()

	_, err = ConnectRedis(context.Background(), "")
	require.Error(t, err)
}
