package configs

import (
	"os"
	"path/filepath"
	"sync"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
)

// 默认数据目录名，位于用户主目录下
const defaultDataDirName = ".unfollow-radar"

var (
	mu       sync.RWMutex
	headless = true
	binPath  string
	dataDir  string
	username string
)

// InitHeadless 设置浏览器是否以无头模式运行
func InitHeadless(v bool) {
	mu.Lock()
	defer mu.Unlock()
	headless = v
}

// IsHeadless 返回当前的无头模式配置
func IsHeadless() bool {
	mu.RLock()
	defer mu.RUnlock()
	return headless
}

// SetBinPath 设置浏览器二进制文件路径
func SetBinPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	binPath = path
}

// GetBinPath 返回浏览器二进制文件路径，为空时由 headless_browser 自行探测
func GetBinPath() string {
	mu.RLock()
	defer mu.RUnlock()
	return binPath
}

// SetDataDir 设置数据目录（cookies、状态存储等均写入该目录）
func SetDataDir(dir string) {
	mu.Lock()
	defer mu.Unlock()
	dataDir = dir
}

// GetDataDir 返回数据目录，未设置时使用 ~/.unfollow-radar，并保证目录存在
func GetDataDir() string {
	mu.RLock()
	dir := dataDir
	mu.RUnlock()

	if dir == "" {
		home, err := homedir.Dir()
		if err != nil {
			logrus.Warnf("failed to resolve home dir: %v", err)
			home = "."
		}
		dir = filepath.Join(home, defaultDataDirName)

		mu.Lock()
		dataDir = dir
		mu.Unlock()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		logrus.Warnf("failed to create data dir %s: %v", dir, err)
	}
	return dir
}

// SetUsername 设置操作者的账号 handle，用于定位 following 页面
func SetUsername(name string) {
	mu.Lock()
	defer mu.Unlock()
	username = name
}

// GetUsername 返回操作者账号 handle，可能为空（此时要求页面已处于 following 列表）
func GetUsername() string {
	mu.RLock()
	defer mu.RUnlock()
	return username
}
