package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/cinehub/cinehub/internal/throttle"
)

// ReloadDebounce 合并编辑器保存时产生的连续写事件。
const ReloadDebounce = 300 * time.Millisecond

// Watch 监听配置文件变化，去抖后重新加载并通过 onChange 交付新配置。
// 校验失败的配置只记录日志，继续沿用旧配置。返回的 stop 会先执行挂起的重载再停止。
func Watch(path string, logger *logrus.Logger, onChange func(*Config)) (stop func(), err error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback required")
	}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	reload := newReloader(path, logger, onChange)

	v.OnConfigChange(func(ev fsnotify.Event) {
		if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		reload.Call(ev)
	})
	v.WatchConfig()

	return stopReloader(reload), nil
}

func newReloader(path string, logger *logrus.Logger, onChange func(*Config)) *throttle.Debouncer[fsnotify.Event] {
	return throttle.Debounce(func(ev fsnotify.Event) {
		fields := logrus.Fields{
			"action":     "config_reload",
			"configPath": path,
			"event":      ev.Op.String(),
		}
		cfg, err := Load(path)
		if err != nil {
			if logger != nil {
				logger.WithFields(fields).WithError(err).Warn("config_reload_rejected")
			}
			return
		}
		if logger != nil {
			fields["catalogs"] = len(cfg.Catalogs)
			logger.WithFields(fields).Info("config_reloaded")
		}
		onChange(cfg)
	}, ReloadDebounce)
}

// stopReloader 先应用仍在去抖窗口内的最后一次修改，再停止监听回调。
func stopReloader(reload *throttle.Debouncer[fsnotify.Event]) func() {
	return func() {
		reload.Flush()
		reload.Stop()
	}
}
