package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix 环境变量前缀。"__" 分隔层级，例如：
//   - RECSYNC_API__BASE_URL → api.base_url
//   - RECSYNC_TELEMETRY__KAFKA__BROKERS=a:9092,b:9092 → telemetry.kafka.brokers
const EnvPrefix = "RECSYNC_"

// ConfigPathEnvVar 可覆盖配置文件路径
const ConfigPathEnvVar = "RECSYNC_CONFIG"

// sliceConfigPaths 环境变量中以逗号分隔的列表字段
var sliceConfigPaths = []string{
	"telemetry.kafka.brokers",
}

// Load 按 默认值 → 配置文件（可选）→ 环境变量 的顺序叠加加载配置。
// path 为空时读取 RECSYNC_CONFIG 指向的文件，仍为空则跳过文件层。
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := splitSlices(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envTransform RECSYNC_AMBIENT__DEFAULT_CITY → ambient.default_city
func envTransform(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	if key == "CONFIG" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

func splitSlices(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}
