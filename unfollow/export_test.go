package unfollow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpzouying/unfollow-radar/storage"
)

func TestHistoryCSV(t *testing.T) {
	date1 := time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)
	date2 := time.Date(2026, 8, 31, 9, 0, 30, 0, time.UTC)

	data := HistoryCSV([]storage.HistoryEntry{
		{Username: "alice", Date: date1, Reason: ActionManual},
		{Username: "bob", Date: date2, Reason: ActionManual},
	})

	// BOM 前缀保证 Excel 正确识别 UTF-8
	require.True(t, len(data) >= 3)
	assert.Equal(t, []byte{0xEF, 0xBB, 0xBF}, data[:3])

	expected := "Username,Date,Reason" +
		"\nalice,2026-08-30T10:15:00Z,manual" +
		"\nbob,2026-08-31T09:00:30Z,manual"
	assert.Equal(t, expected, string(data[3:]))
}

func TestHistoryCSVEmpty(t *testing.T) {
	data := HistoryCSV(nil)

	// 空历史只有 BOM 和表头
	assert.Equal(t, csvBOM+"Username,Date,Reason", string(data))
}
