package unfollow

import (
	"strings"
	"time"

	"github.com/xpzouying/unfollow-radar/storage"
)

// csvBOM UTF-8 字节序标记，保证 Excel 正确识别编码。
const csvBOM = "\uFEFF"

// HistoryCSV 把取关历史导出为 CSV。
// 格式沿用既有导出文件：BOM 前缀、表头 Username,Date,Reason、
// 逗号直接拼接不做引号转义（各字段字符集受限，不会包含逗号）。
func HistoryCSV(history []storage.HistoryEntry) []byte {
	var b strings.Builder
	b.WriteString(csvBOM)
	b.WriteString("Username,Date,Reason")

	for _, entry := range history {
		b.WriteString("\n")
		b.WriteString(entry.Username)
		b.WriteString(",")
		b.WriteString(entry.Date.Format(time.RFC3339))
		b.WriteString(",")
		b.WriteString(entry.Reason)
	}

	return []byte(b.String())
}
