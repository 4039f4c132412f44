// export_history 直接读取状态存储并把取关历史导出为 CSV，
// 不需要启动服务进程。
package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/xpzouying/unfollow-radar/configs"
	"github.com/xpzouying/unfollow-radar/storage"
	"github.com/xpzouying/unfollow-radar/unfollow"
)

func main() {
	var (
		dataDir   string
		storeKind string
		output    string
	)
	flag.StringVar(&dataDir, "data", "", "数据目录（默认 ~/.unfollow-radar）")
	flag.StringVar(&storeKind, "store", "sqlite", "状态存储后端：sqlite 或 file")
	flag.StringVar(&output, "o", "", "输出文件路径，为空时写到标准输出")
	flag.Parse()

	configs.SetDataDir(dataDir)
	dir := configs.GetDataDir()

	var (
		kv  storage.Store
		err error
	)
	switch storeKind {
	case "file":
		kv, err = storage.OpenFile(filepath.Join(dir, "state.json"))
	default:
		kv, err = storage.OpenSQLite(filepath.Join(dir, "state.db"))
	}
	if err != nil {
		logrus.Fatalf("failed to open store: %v", err)
	}
	defer kv.Close()

	history, err := storage.NewStateStore(kv).History()
	if err != nil {
		logrus.Fatalf("failed to read history: %v", err)
	}

	data := unfollow.HistoryCSV(history)

	if output == "" {
		if _, err := os.Stdout.Write(data); err != nil {
			logrus.Fatalf("failed to write csv: %v", err)
		}
		return
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		logrus.Fatalf("failed to write %s: %v", output, err)
	}
	logrus.WithFields(logrus.Fields{"file": output, "entries": len(history)}).Info("history exported")
}
