package configs

import (
	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// FileConfig 对应可选的 ~/.unfollow-radar.yaml 配置文件。
// 命令行参数优先级高于配置文件。
type FileConfig struct {
	Headless *bool    `mapstructure:"headless"`
	BinPath  string   `mapstructure:"bin_path"`
	DataDir  string   `mapstructure:"data_dir"`
	Username string   `mapstructure:"username"`
	LogLevel string   `mapstructure:"log_level"`
	Store    string   `mapstructure:"store"`
	// 首次启动时写入存储的过滤器种子，已有持久化数据时不覆盖
	Keywords  []string `mapstructure:"keywords"`
	Whitelist []string `mapstructure:"whitelist"`
}

// LoadFileConfig 读取配置文件。path 为空时尝试 $HOME/.unfollow-radar.yaml，
// 文件不存在不视为错误。
func LoadFileConfig(path string) (*FileConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return nil, errors.Wrap(err, "resolve home dir")
		}
		v.AddConfigPath(home)
		v.SetConfigName(".unfollow-radar")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("UNFOLLOW_RADAR")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return &FileConfig{}, nil
		}
		return nil, errors.Wrap(err, "read config file")
	}

	var cfg FileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config file")
	}

	logrus.WithField("config", v.ConfigFileUsed()).Debug("loaded config file")
	return &cfg, nil
}
