package splitkv

import (
	"io"
	"os"
	"time"

	"github.com/stevegt/splitkv/kv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML configuration file read by the CLI.
// Command-line flags override it.
type FileConfig struct {
	Dir string    `yaml:"dir"`
	Env EnvConfig `yaml:"env"`
	Log LogConfig `yaml:"log"`
}

type EnvConfig struct {
	MapSize int           `yaml:"mapSize"`
	MaxDBs  int           `yaml:"maxDbs"`
	NoSync  bool          `yaml:"noSync"`
	Timeout time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Production bool   `yaml:"production"`
	Level      string `yaml:"level"`
}

// LoadFileConfig reads a FileConfig from path.
func LoadFileConfig(path string) (c *FileConfig, err error) {
	c = &FileConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return
}

// Options converts the environment section to kv.Options.
func (c *FileConfig) Options() kv.Options {
	opts := kv.DefaultOptions()
	if c.Env.MapSize > 0 {
		opts.MapSize = c.Env.MapSize
	}
	if c.Env.Timeout > 0 {
		opts.Timeout = c.Env.Timeout
	}
	opts.MaxDBs = c.Env.MaxDBs
	opts.NoSync = c.Env.NoSync
	return opts
}

// Logger builds a logger writing to w.  An empty level means warn, or
// debug when verbose is set.
func (l LogConfig) Logger(w io.Writer, verbose bool) (*zap.Logger, error) {
	var conf zap.Config
	if l.Production {
		conf = zap.NewProductionConfig()
	} else {
		conf = zap.NewDevelopmentConfig()
	}
	level := zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else if l.Level != "" {
		var err error
		level, err = zap.ParseAtomicLevel(l.Level)
		if err != nil {
			return nil, err
		}
	}
	var enc zapcore.Encoder
	if l.Production {
		enc = zapcore.NewJSONEncoder(conf.EncoderConfig)
	} else {
		enc = zapcore.NewConsoleEncoder(conf.EncoderConfig)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(w), level)
	return zap.New(core), nil
}
