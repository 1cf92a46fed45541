package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"

	"art01ml/db"
	qhttp "art01ml/http"
	"art01ml/logging"
	"art01ml/ml"
	"art01ml/monitoring"
	"art01ml/pipeline"
	"art01ml/service"
)

const shutdownTimeout = 5 * time.Second

var newArtifactWatcher = service.NewArtifactWatcher

type Config struct {
	HTTP      qhttp.ServerConfig `yaml:"http"`
	Artifacts struct {
		Dir      string        `yaml:"dir"`
		Watch    bool          `yaml:"watch"`
		Debounce time.Duration `yaml:"debounce"`
	} `yaml:"artifacts"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Data  pipeline.LoaderConfig `yaml:"data"`
	Model struct {
		Estimators int   `yaml:"estimators"`
		Seed       int64 `yaml:"seed"`
	} `yaml:"model"`
	Cache struct {
		Size int `yaml:"size"`
	} `yaml:"cache"`
	Log logging.Config `yaml:"log"`
}

type args struct {
	Config string `arg:"-c,--config" help:"path to the YAML config file" default:"config.yaml"`
}

func (args) Description() string {
	return "art01ml serves training, scoring and explanation of a random forest over tabular data."
}

func main() {
	var args args
	arg.MustParse(&args)

	// 1. Load config
	config, err := loadConfig(args.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Logger
	logger, err := logging.New(config.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 3. Run until SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, logger); err != nil {
		logger.Error("exiting", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("exiting")
}

func run(ctx context.Context, config *Config, logger *zap.Logger) (err error) {
	store, err := ml.NewArtifactStore(config.Artifacts.Dir)
	if err != nil {
		return err
	}

	history, err := db.Open(config.Database.Path)
	if err != nil {
		return errors.Wrapf(err, "open database %s", config.Database.Path)
	}
	defer func() { err = multierr.Append(err, history.Close()) }()
	logger.Info("database initialized", zap.String("path", config.Database.Path))

	metrics := monitoring.NewMetricsCollector()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = multierr.Append(err, metrics.Shutdown(shutdownCtx))
	}()
	hub := monitoring.NewHub(logger.Named("events"))

	svc, err := service.NewModelService(service.Config{
		Estimators: config.Model.Estimators,
		Seed:       config.Model.Seed,
		CacheSize:  config.Cache.Size,
		Loader:     config.Data,
	}, store, service.Dependencies{
		Logger:  logger.Named("service"),
		History: history,
		Events:  hub,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	if _, err := svc.Reload(ctx); err != nil {
		return errors.Wrap(err, "load model artifacts")
	}

	handler := qhttp.NewHandler(svc, history, metrics, hub, logger.Named("http"))
	server := qhttp.NewServer(config.HTTP, handler.Routes(), metrics, logger.Named("http"))

	// 先创建监听器再启动goroutine
	var watcher *service.ArtifactWatcher
	if config.Artifacts.Watch {
		watcher, err = newArtifactWatcher(store, svc, config.Artifacts.Debounce, logger.Named("watcher"))
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, watcher.Close()) }()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	return g.Wait()
}

func defaultConfig() *Config {
	var config Config
	config.HTTP = qhttp.DefaultServerConfig()
	config.Artifacts.Dir = "models"
	config.Artifacts.Debounce = service.DefaultDebounce
	config.Database.Path = "data/art01ml.db"
	config.Data = pipeline.LoaderConfig{Delimiter: ",", Encoding: "utf-8"}
	config.Model.Estimators = ml.DefaultEstimators
	config.Model.Seed = ml.DefaultSeed
	config.Cache.Size = 1024
	config.Log = logging.DefaultConfig()
	return &config
}

// loadConfig 读取配置文件，文件不存在时使用默认值
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(config); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	if config.Artifacts.Dir == "" {
		return nil, errors.New("artifacts.dir must not be empty")
	}
	return config, nil
}
