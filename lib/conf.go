package lib

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	"gopkg.in/ini.v1"
)

type Conf struct {
	Addr     string        `ini:"addr"`
	Backlog  int           `ini:"backlog"`
	Size     int           `ini:"size"`
	Timeout  time.Duration `ini:"timeout"`
	Decode   string        `ini:"decode"`
	Checksum string        `ini:"checksum"`
	LogLevel string        `ini:"log_level"`
	Status   string        `ini:"status"`
}

func DefaultConf() Conf {
	return Conf{
		Addr:     "127.0.0.1:3111",
		Backlog:  1,
		Size:     1024,
		Decode:   DecodeStrict,
		Checksum: ChecksumXxh,
		LogLevel: "info",
	}
}

func ConfPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return path.Join(home, ".sink.conf")
}

// LoadConf layers an ini file and SINK_* env vars over the defaults. With
// an empty confPath the default path is tried and may be absent.
func LoadConf(confPath string) (Conf, error) {
	conf := DefaultConf()
	explicit := confPath != ""
	if !explicit {
		confPath = ConfPath()
	}
	if confPath != "" {
		_, err := os.Stat(confPath)
		switch {
		case err == nil:
			file, err := ini.Load(confPath)
			if err != nil {
				return conf, fmt.Errorf("load %s: %w", confPath, err)
			}
			if err := file.Section("").MapTo(&conf); err != nil {
				return conf, fmt.Errorf("map %s: %w", confPath, err)
			}
		case explicit || !os.IsNotExist(err):
			return conf, fmt.Errorf("stat %s: %w", confPath, err)
		}
	}
	overrideFromEnv(&conf.Addr, "SINK_ADDR")
	overrideFromEnv(&conf.LogLevel, "SINK_LOG_LEVEL")
	if err := overrideFromEnvInt(&conf.Size, "SINK_SIZE"); err != nil {
		return conf, err
	}
	return conf, nil
}

func overrideFromEnv(target *string, name string) {
	if v := os.Getenv(name); v != "" {
		*target = v
	}
}

func overrideFromEnvInt(target *int, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s=%q: %w", name, v, err)
	}
	*target = n
	return nil
}
