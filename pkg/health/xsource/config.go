package xsource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Format 定义配置文件格式。
type Format string

// 支持的配置格式。
const (
	// FormatYAML YAML 格式（推荐用于 K8s ConfigMap）。
	FormatYAML Format = "yaml"

	// FormatJSON JSON 格式。
	FormatJSON Format = "json"
)

// Config 是健康监控的文件化配置。
// 对应配置文件中的 health 段（路径可由调用方通过 koanf 自定义）。
type Config struct {
	// Enabled 健康监控总开关，默认 false（默认安全：不排除任何 Source）。
	Enabled bool `koanf:"enabled"`

	// Policy 策略选择："strike"（三振阶梯，默认）或 "slowrate"（慢比率）。
	Policy string `koanf:"policy"`

	// QueueSize 采样队列容量，0 表示默认 1024。
	QueueSize int `koanf:"queue_size"`

	// SlowThresholdMs 慢样本阈值（毫秒），0 表示默认 3000。
	SlowThresholdMs int `koanf:"slow_threshold_ms"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Policy:  "strike",
	}
}

// Options 将配置展开为 Monitor 选项。
// 未识别的策略名返回 [ErrUnknownPolicy]。
func (c Config) Options() ([]Option, error) {
	policy, err := policyByName(c.Policy)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithEnabled(c.Enabled),
		WithPolicy(policy),
	}
	if c.QueueSize > 0 {
		opts = append(opts, WithQueueSize(c.QueueSize))
	}
	if c.SlowThresholdMs > 0 {
		opts = append(opts, WithSlowThreshold(time.Duration(c.SlowThresholdMs)*time.Millisecond))
	}
	return opts, nil
}

func policyByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "strike":
		return NewStrikePolicy(), nil
	case "slowrate", "slow_rate":
		return NewSlowRatePolicy(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

// LoadConfig 从文件加载配置，根据扩展名自动检测格式（.yaml/.yml 或 .json）。
// path 指向的文件整体按 Config 结构解析。
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("xsource: empty config path")
	}

	format, err := detectFormat(path)
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("xsource: read config: %w", err)
	}

	return LoadConfigBytes(data, format)
}

// LoadConfigBytes 从字节数据加载配置，需要显式指定格式。
// 空数据返回默认配置，与空文件行为一致。
func LoadConfigBytes(data []byte, format Format) (Config, error) {
	cfg := DefaultConfig()
	if len(data) == 0 {
		return cfg, nil
	}

	k := koanf.New(".")
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = kyaml.Parser()
	case FormatJSON:
		parser = kjson.Parser()
	default:
		return Config{}, fmt.Errorf("xsource: unsupported config format %q", format)
	}

	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return Config{}, fmt.Errorf("xsource: parse config: %w", err)
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("xsource: unmarshal config: %w", err)
	}

	if _, err := policyByName(cfg.Policy); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func detectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("xsource: cannot detect config format for %q", path)
	}
}

// =============================================================================
// 配置热更新
// =============================================================================

// ConfigWatcher 监听配置文件变更并把 Enabled 开关热应用到 Monitor。
//
// 只有总开关支持热更新；策略与队列容量等结构性配置需要重建 Monitor。
type ConfigWatcher struct {
	path     string
	monitor  Monitor
	onChange func(Config, error)
	watcher  *fsnotify.Watcher
	debounce time.Duration
	done     chan struct{}

	mu    sync.Mutex
	timer *time.Timer // debounce 定时器，Close 时需要取消
}

// WatchConfig 创建并启动配置监视器。
//
// 监视配置文件所在目录（编辑器保存可能是删除后重建，直接监视文件会丢事件），
// 变更经 100ms 防抖后重新加载，成功时应用 Enabled 开关。
// onChange 可为 nil；非 nil 时每次重载（含失败）都会收到通知。
// 调用方负责在退出前调用 Close。
func WatchConfig(path string, m Monitor, onChange func(Config, error)) (*ConfigWatcher, error) {
	if m == nil {
		return nil, ErrNilMonitor
	}
	if _, err := detectFormat(path); err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("xsource: create watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		closeErr := fsWatcher.Close()
		return nil, errors.Join(fmt.Errorf("xsource: watch %s: %w", filepath.Dir(path), err), closeErr)
	}

	w := &ConfigWatcher{
		path:     path,
		monitor:  m,
		onChange: onChange,
		watcher:  fsWatcher,
		debounce: 100 * time.Millisecond,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *ConfigWatcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.scheduleReload()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// fsnotify 的内部错误不可恢复，留给下一次事件重试。
		case <-w.done:
			return
		}
	}
}

// scheduleReload 防抖：窗口内的多次变更只触发一次重载。
func (w *ConfigWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *ConfigWatcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err == nil {
		w.monitor.SetEnabled(cfg.Enabled)
	}
	if w.onChange != nil {
		w.onChange(cfg, err)
	}
}

// Close 停止监视。
func (w *ConfigWatcher) Close() error {
	close(w.done)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
