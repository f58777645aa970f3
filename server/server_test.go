package server

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multipager/hma/config"
	"github.com/multipager/hma/pagelock"
)

type fakePager struct {
	path        string
	rolledBack  []int
	lockGranted bool
}

func (p *fakePager) Filename() string { return p.path }

func (p *fakePager) RollbackJournal(clientID int) error {
	p.rolledBack = append(p.rolledBack, clientID)
	return nil
}

func (p *fakePager) LockDatabaseExclusive() (bool, func(), error) {
	return p.lockGranted, func() {}, nil
}

func smallConfig() config.Config {
	cfg := config.Default()
	cfg.ClientSlots = 4
	cfg.PageLockSlots = 8
	return cfg
}

func TestEngineConnectBeginLockEndDisconnect(t *testing.T) {
	dir := t.TempDir()
	dbPath := dir + "/db.sqlite"
	require.NoError(t, os.WriteFile(dbPath, []byte("x"), 0644))

	engine := New(smallConfig(), pagelock.NopLogger())
	pager := &fakePager{path: dbPath, lockGranted: true}

	conn, err := engine.Connect(pager)
	require.NoError(t, err)
	assert.Equal(t, 0, conn.ClientID())

	require.NoError(t, conn.Begin())
	require.NoError(t, conn.Lock(42, false, false))
	assert.True(t, conn.HasLock(42, false))

	require.NoError(t, conn.End())
	assert.False(t, conn.HasLock(42, false))

	conn.Disconnect()

	_, statErr := os.Stat(dbPath + "-hma")
	assert.True(t, os.IsNotExist(statErr), "sole connection disconnecting with a granted db lock unlinks the HMA file")
}

func TestEngineConnectReusesSlotAfterDisconnect(t *testing.T) {
	dir := t.TempDir()
	dbPath := dir + "/db.sqlite"
	require.NoError(t, os.WriteFile(dbPath, []byte("x"), 0644))

	engine := New(smallConfig(), pagelock.NopLogger())
	pager := &fakePager{path: dbPath}

	conn1, err := engine.Connect(pager)
	require.NoError(t, err)
	assert.Equal(t, 0, conn1.ClientID())
	conn1.Disconnect()

	conn2, err := engine.Connect(pager)
	require.NoError(t, err)
	assert.Equal(t, 0, conn2.ClientID(), "a freed slot is reused before a higher-numbered one")
	conn2.Disconnect()
}
