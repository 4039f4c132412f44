package cookies

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/xpzouying/unfollow-radar/configs"
)

const cookiesFileName = "cookies.json"

// GetCookiesFilePath 返回主 cookies 文件路径（数据目录下）
func GetCookiesFilePath() string {
	return filepath.Join(configs.GetDataDir(), cookiesFileName)
}

// LoadCookie 负责某个 cookies 文件的读写
type LoadCookie struct {
	path string
}

// NewLoadCookie 创建一个绑定到指定文件路径的 LoadCookie
func NewLoadCookie(path string) *LoadCookie {
	return &LoadCookie{path: path}
}

// LoadCookies 读取 cookies 文件内容
func (l *LoadCookie) LoadCookies() ([]byte, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, errors.Wrapf(err, "read cookies file: %s", l.path)
	}
	return data, nil
}

// SaveCookies 将 cookies 写入文件，文件权限限制为当前用户
func (l *LoadCookie) SaveCookies(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errors.Wrapf(err, "create cookies dir for %s", l.path)
	}
	if err := os.WriteFile(l.path, data, 0o600); err != nil {
		return errors.Wrapf(err, "write cookies file: %s", l.path)
	}
	return nil
}
