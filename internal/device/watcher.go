// ABOUTME: Watches /dev for printers and serial adapters being plugged or unplugged
// ABOUTME: Fires a debounced callback so the agent can announce its new inventory early

package device

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// hotplugPrefixes are the /dev node names that indicate a device of interest.
var hotplugPrefixes = []string{"ttyUSB", "ttyACM", "tty.usbserial", "usb", "lp"}

// Watcher reports device node changes under a directory.
type Watcher struct {
	dir      string
	debounce time.Duration
	onChange func()
	logger   *slog.Logger
}

// NewWatcher creates a watcher for dir that calls onChange at most once per
// debounce period after relevant nodes appear or disappear.
func NewWatcher(dir string, debounce time.Duration, onChange func(), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		onChange: onChange,
		logger:   logger.With("component", "hotplug"),
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.logger.Info("watching for device changes", "dir", w.dir)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case e, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if e.Op&(fsnotify.Create|fsnotify.Remove) == 0 || !isHotplugNode(e.Name) {
				continue
			}
			w.logger.Debug("device node changed", "node", e.Name, "op", e.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)

		case <-timerCh:
			timer, timerCh = nil, nil
			w.onChange()
		}
	}
}

func isHotplugNode(path string) bool {
	base := filepath.Base(path)
	for _, prefix := range hotplugPrefixes {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}
