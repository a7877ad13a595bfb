package dispatcher

import (
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config controls dispatch intervals, batch sizes and the poison policy.
type Config struct {
	RunInterval        time.Duration `mapstructure:"runInterval"`
	BatchLimit         int           `mapstructure:"batchLimit"`
	CycleTimeout       time.Duration `mapstructure:"cycleTimeout"`
	LockTTL            time.Duration `mapstructure:"lockTTL"`
	PoisonThreshold    int           `mapstructure:"poisonThreshold"`
	DeadLetterEnabled  bool          `mapstructure:"deadLetterEnabled"`
	EnabledSubscribers []string      `mapstructure:"enabledSubscribers"`
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       5 * time.Second,
		BatchLimit:        100,
		CycleTimeout:      30 * time.Second,
		LockTTL:           time.Minute,
		PoisonThreshold:   25,
		DeadLetterEnabled: false,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = defaults.BatchLimit
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = defaults.CycleTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.PoisonThreshold <= 0 {
		c.PoisonThreshold = defaults.PoisonThreshold
	}
	return c
}

func (c Config) isSubscriberEnabled(name string) bool {
	// If EnabledSubscribers is empty, all subscribers are enabled by default.
	if len(c.EnabledSubscribers) == 0 {
		return true
	}
	for _, enabled := range c.EnabledSubscribers {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}

// ConfigHolder serves the current dispatcher config and hot-reloads it from
// dispatcher.yml when the file changes.
type ConfigHolder struct {
	current atomic.Value // holds Config
}

func NewConfigHolder() (*ConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("dispatcher")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/orderhub/config")
	v.AddConfigPath("/etc/orderhub")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ORDERHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.UnmarshalKey("dispatcher", &cfg); err != nil {
		return nil, err
	}

	holder := &ConfigHolder{}
	holder.current.Store(cfg.withDefaults())

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Config
		if err := v.UnmarshalKey("dispatcher", &updated); err != nil {
			log.Printf("[dispatcher-config] reload failed: %v", err)
			return
		}
		holder.current.Store(updated.withDefaults())
		log.Printf("[dispatcher-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *ConfigHolder) Get() Config {
	return h.current.Load().(Config)
}
