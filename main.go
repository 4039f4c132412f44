package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/xpzouying/unfollow-radar/browser"
	"github.com/xpzouying/unfollow-radar/configs"
	"github.com/xpzouying/unfollow-radar/storage"
)

func main() {
	var (
		headless   bool
		binPath    string // 浏览器二进制文件路径
		port       string
		dataDir    string
		storeKind  string // 状态存储后端：sqlite 或 file
		username   string
		logLevel   string
		configPath string
	)
	flag.BoolVar(&headless, "headless", true, "是否无头模式")
	flag.StringVar(&binPath, "bin", "", "浏览器二进制文件路径")
	flag.StringVar(&port, "port", ":18061", "端口")
	flag.StringVar(&dataDir, "data", "", "数据目录（默认 ~/.unfollow-radar）")
	flag.StringVar(&storeKind, "store", "sqlite", "状态存储后端：sqlite 或 file")
	flag.StringVar(&username, "username", "", "账号 handle，用于定位 following 页面")
	flag.StringVar(&logLevel, "loglevel", "info", "日志级别")
	flag.StringVar(&configPath, "config", "", "配置文件路径（默认 ~/.unfollow-radar.yaml）")
	flag.Parse()

	// 配置文件只补充命令行没给的值
	fileCfg, err := configs.LoadFileConfig(configPath)
	if err != nil {
		logrus.Fatalf("failed to load config file: %v", err)
	}
	if !flagPassed("headless") && fileCfg.Headless != nil {
		headless = *fileCfg.Headless
	}
	if binPath == "" {
		binPath = fileCfg.BinPath
	}
	if binPath == "" {
		binPath = os.Getenv("ROD_BROWSER_BIN")
	}
	if dataDir == "" {
		dataDir = fileCfg.DataDir
	}
	if username == "" {
		username = fileCfg.Username
	}
	if !flagPassed("loglevel") && fileCfg.LogLevel != "" {
		logLevel = fileCfg.LogLevel
	}
	if !flagPassed("store") && fileCfg.Store != "" {
		storeKind = fileCfg.Store
	}

	if level, err := logrus.ParseLevel(logLevel); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.Warnf("invalid log level %q, using info", logLevel)
	}

	configs.InitHeadless(headless)
	configs.SetBinPath(binPath)
	configs.SetDataDir(dataDir)
	configs.SetUsername(username)

	browser.GetGlobalManager().SetConfig(configs.IsHeadless(), configs.GetBinPath())

	kv, err := openStore(storeKind)
	if err != nil {
		logrus.Fatalf("failed to open store: %v", err)
	}

	// 初始化服务
	radarService := NewRadarService(kv)
	defer radarService.Close()

	radarService.SeedFilters(fileCfg.Keywords, fileCfg.Whitelist)

	// 创建应用服务器
	appServer := NewAppServer(radarService)

	if err := appServer.Start(port); err != nil {
		logrus.Fatalf("failed to run server: %v", err)
	}
}

// openStore 按后端类型打开状态存储，数据文件都放在数据目录下。
func openStore(kind string) (storage.Store, error) {
	dir := configs.GetDataDir()

	switch kind {
	case "file":
		return storage.OpenFile(filepath.Join(dir, "state.json"))
	default:
		return storage.OpenSQLite(filepath.Join(dir, "state.db"))
	}
}

func flagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}
