package status

import (
	"testing"

	"github.com/bobmcallan/hive/internal/common"
	"github.com/bobmcallan/hive/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_EmptySnapshot(t *testing.T) {
	s := NewStore(common.NewSilentLogger())
	snap := s.Snapshot()
	assert.Nil(t, snap.Bot)
	assert.Nil(t, snap.Stats)
}

func TestStore_LastWriteWins(t *testing.T) {
	s := NewStore(common.NewSilentLogger())
	s.ApplyBotStatus(models.BotStatus{Running: true, State: "running"})
	s.ApplyBotStatus(models.BotStatus{Running: false, State: "stopped"})
	s.ApplyStats(models.TradingStats{TotalTrades: 10})
	s.ApplyStats(models.TradingStats{TotalTrades: 12})

	snap := s.Snapshot()
	require.NotNil(t, snap.Bot)
	require.NotNil(t, snap.Stats)
	assert.False(t, snap.Bot.Running)
	assert.Equal(t, "stopped", snap.Bot.State)
	assert.Equal(t, 12, snap.Stats.TotalTrades)
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := NewStore(common.NewSilentLogger())
	s.ApplyStats(models.TradingStats{TotalTrades: 3})

	snap := s.Snapshot()
	snap.Stats.TotalTrades = 99
	assert.Equal(t, 3, s.Snapshot().Stats.TotalTrades)
}
