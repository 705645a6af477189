package catalog

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const reloadDebounce = 100 * time.Millisecond

// Open loads the catalog. An empty path returns the built-in catalog; any
// other path is read with viper (TOML, YAML or JSON by extension) and
// watched, and a valid change replaces the catalog in place. An invalid
// change is logged and ignored.
func Open(path string, logger *slog.Logger) (*Catalog, error) {
	if path == "" {
		return Default(logger)
	}

	v := viper.New()
	v.SetConfigFile(path)
	d, err := readFile(v)
	if err != nil {
		return nil, err
	}
	c, err := New(d, logger)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}

	c.watch(v, path)
	return c, nil
}

func readFile(v *viper.Viper) (Data, error) {
	if err := v.ReadInConfig(); err != nil {
		return Data{}, fmt.Errorf("read catalog: %w", err)
	}
	var d Data
	if err := v.Unmarshal(&d); err != nil {
		return Data{}, fmt.Errorf("decode catalog: %w", err)
	}
	return d, nil
}

func (c *Catalog) watch(v *viper.Viper, path string) {
	var (
		debounceTimer *time.Timer
		debounceMu    sync.Mutex
	)

	v.OnConfigChange(func(_ fsnotify.Event) {
		debounceMu.Lock()
		defer debounceMu.Unlock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(reloadDebounce, func() {
			c.reload(v, path)
		})
	})

	v.WatchConfig()
}

func (c *Catalog) reload(v *viper.Viper, path string) {
	d, err := readFile(v)
	if err == nil {
		err = c.Replace(d)
	}
	if err != nil {
		c.logger.Error("catalog reload rejected", "path", path, "error", err)
		return
	}
	c.logger.Info("catalog reloaded", "path", path, "models", len(d.Models), "tiers", len(d.Tiers))
}
