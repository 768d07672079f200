// Package watcher 监听投递目录，自动把落盘文件送入知识库
package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/log"
)

// IngestFunc 文件入库回调，path 为投递目录下的绝对路径
type IngestFunc func(path string) error

// DropWatcher 投递目录监听器
// 目录下新增的文件在写入稳定后触发入库回调，启动时补扫已存在的文件
type DropWatcher struct {
	dir     string
	ingest  IngestFunc
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	// 防抖：同一文件的连续写事件合并为一次入库
	debounceDelay  time.Duration
	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDropWatcher 创建投递目录监听器，DropDir 为空时返回 nil 表示关闭该功能
func NewDropWatcher(cfg *config.Config, ingest IngestFunc) (*DropWatcher, error) {
	if cfg.Ingest.DropDir == "" {
		return nil, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &DropWatcher{
		dir:            cfg.Ingest.DropDir,
		ingest:         ingest,
		watcher:        fsWatcher,
		logger:         log.NewModuleLogger("watcher", "dropdir"),
		debounceDelay:  2 * time.Second,
		debounceTimers: make(map[string]*time.Timer),
		stopCh:         make(chan struct{}),
	}, nil
}

// Start 启动监听
func (w *DropWatcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}

	w.logger.Info("Starting drop dir watcher", "dir", w.dir)

	// 补扫启动前已投递的文件
	w.scanExisting()

	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.watchLoop()

	return nil
}

// Stop 停止监听
func (w *DropWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
	w.wg.Wait()

	w.debounceMu.Lock()
	for _, timer := range w.debounceTimers {
		timer.Stop()
	}
	w.debounceMu.Unlock()

	w.logger.Info("Drop dir watcher stopped")
}

// scanExisting 扫描目录中已有的文件
func (w *DropWatcher) scanExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("Failed to scan drop dir", "dir", w.dir, "error", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || isHidden(entry.Name()) {
			continue
		}
		w.scheduleIngest(filepath.Join(w.dir, entry.Name()))
	}
}

// watchLoop 事件处理循环
func (w *DropWatcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if isHidden(filepath.Base(event.Name)) {
				continue
			}
			if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
				continue
			}
			w.scheduleIngest(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)
		}
	}
}

// scheduleIngest 防抖后触发入库
func (w *DropWatcher) scheduleIngest(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.debounceTimers[path]; ok {
		timer.Stop()
	}

	w.debounceTimers[path] = time.AfterFunc(w.debounceDelay, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.runIngest(path)
	})
}

// runIngest 执行入库回调
func (w *DropWatcher) runIngest(path string) {
	w.logger.Info("Ingesting dropped file", "path", path)

	if err := w.ingest(path); err != nil {
		w.logger.Error("Failed to ingest dropped file", "path", path, "error", err)
		return
	}

	// 入库成功后移除源文件，避免重启后重复入库
	if err := os.Remove(path); err != nil {
		w.logger.Warn("Failed to remove ingested file", "path", path, "error", err)
	}
}

// isHidden 跳过隐藏文件和编辑器临时文件
func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".tmp")
}
