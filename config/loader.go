package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ormbatch/errors"
	"ormbatch/logging"
	"ormbatch/validation"
)

// Load 加载配置；path 为空时不读 YAML，envFiles 中不存在的文件被跳过。
// .env 不覆盖进程中已有的环境变量。
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := applyDefaults(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, errors.Configuration("config defaults: %v", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeConfiguration, "read config file "+path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeConfiguration, "parse config file "+path)
		}
	}
	if err := applyEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, errors.Configuration("config env: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad 只在 main 中使用
func MustLoad(path string, envFiles ...string) *Config {
	cfg, err := Load(path, envFiles...)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

func loadEnvFiles(files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.WrapError(err, errors.ErrCodeConfiguration, "load env file "+f)
		}
	}
	return nil
}

// walk 遍历叶子字段（time.Duration 视为叶子）
func walk(v reflect.Value, fn func(field reflect.StructField, value reflect.Value) error) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)
		if !fieldVal.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct {
			if err := walk(fieldVal, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(field, fieldVal); err != nil {
			return err
		}
	}
	return nil
}

func applyDefaults(v reflect.Value) error {
	return walk(v, func(field reflect.StructField, value reflect.Value) error {
		def := field.Tag.Get("default")
		if def == "" || !value.IsZero() {
			return nil
		}
		if err := setField(value, def); err != nil {
			return fmt.Errorf("invalid default for %s=%q: %w", field.Name, def, err)
		}
		return nil
	})
}

func applyEnv(v reflect.Value) error {
	return walk(v, func(field reflect.StructField, value reflect.Value) error {
		name := field.Tag.Get("env")
		if name == "" {
			return nil
		}
		raw := os.Getenv(name)
		if alt := field.Tag.Get("envAlt"); raw == "" && alt != "" {
			raw = os.Getenv(alt)
		}
		if raw == "" {
			return nil
		}
		if err := setField(value, raw); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, raw, err)
		}
		return nil
	})
}

func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		field.Set(reflect.ValueOf(out))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

var (
	drivers   = []string{"sqlite", "postgres", "sqlserver"}
	sinkKinds = []string{SinkLog, SinkRedis, SinkNATS, SinkNone}
)

// Validate 汇总全部问题后一次返回
func (c *Config) Validate() error {
	var problems []string
	check := func(err error) {
		if err != nil {
			problems = append(problems, err.Error())
		}
	}

	check(validation.ValidateEnum(c.Database.Driver, "database.driver", drivers))
	if c.Database.DSN == "" && c.Database.Database == "" {
		problems = append(problems, "database.dsn 与 database.database 不能同时为空")
	}
	check(validation.ValidateIntRange(c.Database.Port, "database.port", 0, 65535))
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		problems = append(problems, "database 连接数不能为负")
	}

	check(validation.ValidatePositive(c.Batch.BatchSize, "batch.batch_size"))
	check(validation.ValidateNonNegativeDuration(c.Batch.Timeout, "batch.timeout"))

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		problems = append(problems, "logging.level: "+err.Error())
	}

	for _, s := range c.Diagnostics.Sinks {
		check(validation.ValidateEnum(s, "diagnostics.sinks", sinkKinds))
	}
	if c.Diagnostics.Has(SinkRedis) {
		check(validation.ValidateRequired(c.Diagnostics.Redis.Addr, "diagnostics.redis.addr"))
		check(validation.ValidateRequired(c.Diagnostics.Redis.Stream, "diagnostics.redis.stream"))
	}
	if c.Diagnostics.Has(SinkNATS) {
		check(validation.ValidateRequired(c.Diagnostics.NATS.Subject, "diagnostics.nats.subject"))
	}

	if len(problems) > 0 {
		return errors.Configuration("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
