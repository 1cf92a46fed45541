package service

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"art01ml/ml"
)

// DefaultDebounce 制品变更后等待的时间
const DefaultDebounce = 500 * time.Millisecond

// Reloader 重新加载模型制品
type Reloader interface {
	Reload(ctx context.Context) (bool, error)
}

// ArtifactWatcher 监听制品目录，外部替换制品后重新加载
type ArtifactWatcher struct {
	store    *ml.ArtifactStore
	target   Reloader
	debounce time.Duration
	log      *zap.Logger
	watcher  *fsnotify.Watcher
}

// NewArtifactWatcher 创建制品监听器
func NewArtifactWatcher(store *ml.ArtifactStore, target Reloader, debounce time.Duration, logger *zap.Logger) (*ArtifactWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create watcher")
	}
	if err := watcher.Add(store.Dir()); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "watch %s", store.Dir())
	}
	return &ArtifactWatcher{
		store:    store,
		target:   target,
		debounce: debounce,
		log:      logger,
		watcher:  watcher,
	}, nil
}

// Run 处理文件事件直到ctx结束
func (w *ArtifactWatcher) Run(ctx context.Context) error {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.store.IsArtifact(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.log.Debug("artifact changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("artifact watcher error", zap.Error(err))

		case <-timer.C:
			loaded, err := w.target.Reload(ctx)
			if err != nil {
				w.log.Warn("reload artifacts", zap.Error(err))
				continue
			}
			w.log.Info("artifacts reloaded", zap.Bool("loaded", loaded))
		}
	}
}

// Close 停止监听
func (w *ArtifactWatcher) Close() error {
	return w.watcher.Close()
}
