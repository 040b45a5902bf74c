package ui

import (
	"context"
	"log/slog"
	"sync"

	dark "github.com/thiagokokada/dark-mode-go"

	"github.com/termdeck/termdeck/internal/logging"
)

var uiLog = logging.ForComponent(logging.CompUI)

// ResolveTheme maps the [ui] theme setting to a concrete theme. "auto"
// follows the OS dark mode and falls back to dark when it cannot be read.
func ResolveTheme(setting string) Theme {
	switch setting {
	case string(ThemeDark):
		return ThemeDark
	case string(ThemeLight):
		return ThemeLight
	}
	isDark, err := dark.IsDarkMode()
	if err != nil {
		uiLog.Debug("theme_detect_failed", slog.String("error", err.Error()))
		return ThemeDark
	}
	if isDark {
		return ThemeDark
	}
	return ThemeLight
}

// ThemeWatcher forwards OS dark mode changes to the model.
type ThemeWatcher struct {
	changeCh  chan bool // true=dark, false=light (latest value wins)
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewThemeWatcher starts watching. It returns nil when the platform offers
// no dark mode notifications; the theme then stays fixed.
func NewThemeWatcher(parentCtx context.Context) *ThemeWatcher {
	ctx, cancel := context.WithCancel(parentCtx)

	events, errs, err := dark.WatchDarkMode(ctx)
	if err != nil {
		cancel()
		uiLog.Warn("theme_watcher_init_failed", slog.String("error", err.Error()))
		return nil
	}

	tw := &ThemeWatcher{
		changeCh: make(chan bool, 1),
		closeCh:  make(chan struct{}),
	}
	go tw.watchLoop(cancel, events, errs)
	return tw
}

func (tw *ThemeWatcher) watchLoop(cancel context.CancelFunc, events <-chan bool, errs <-chan error) {
	defer cancel()
	for {
		select {
		case <-tw.closeCh:
			return
		case isDark, ok := <-events:
			if !ok {
				return
			}
			tw.publish(isDark)
		case err, ok := <-errs:
			if ok && err != nil {
				uiLog.Warn("theme_watcher_error", slog.String("error", err.Error()))
			}
		}
	}
}

// publish replaces an unread value with the newer one.
func (tw *ThemeWatcher) publish(isDark bool) {
	for {
		select {
		case tw.changeCh <- isDark:
			return
		default:
		}
		select {
		case <-tw.changeCh:
		default:
		}
	}
}

// Changes receives the new dark mode state after each OS switch.
func (tw *ThemeWatcher) Changes() <-chan bool {
	return tw.changeCh
}

// Close stops the watcher goroutine. Safe to call multiple times.
func (tw *ThemeWatcher) Close() {
	tw.closeOnce.Do(func() {
		close(tw.closeCh)
	})
}
