package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/alexflint/go-arg"
	"github.com/cheggaaa/pb/v3"
	"go.uber.org/zap"

	"art01ml/db"
	"art01ml/logging"
	"art01ml/ml"
	"art01ml/pipeline"
	"art01ml/service"
)

type args struct {
	Data       string `arg:"positional,required" help:"training data (.csv, or SQLite file with an allocations table)"`
	Target     string `arg:"--target" help:"label column" default:"outcome"`
	Source     string `arg:"--source" help:"source kind: delimited or embedded (inferred from the path when empty)"`
	Models     string `arg:"--models" help:"artifact directory" default:"models"`
	Estimators int    `arg:"--estimators" help:"number of trees" default:"100"`
	Seed       int64  `arg:"--seed" help:"random seed" default:"42"`
	Delimiter  string `arg:"--delimiter" help:"field delimiter for delimited files" default:","`
	Encoding   string `arg:"--encoding" help:"text encoding for delimited files" default:"utf-8"`
	Database   string `arg:"--database" help:"record the run in this SQLite training log"`
	Quiet      bool   `arg:"-q,--quiet" help:"no progress bar"`
}

func (args) Description() string {
	return "Train the art01ml random forest offline and write the model artifacts."
}

func main() {
	var args args
	arg.MustParse(&args)

	logConfig := logging.DefaultConfig()
	logConfig.Level = "warn"
	logger, err := logging.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := train(context.Background(), args, logger, os.Stdout); err != nil {
		logger.Fatal("training failed", zap.String("data", args.Data), zap.Error(err))
	}
}

func train(ctx context.Context, args args, logger *zap.Logger, out io.Writer) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	kind, err := pipeline.ParseSourceKind(args.Source)
	if err != nil {
		return err
	}
	store, err := ml.NewArtifactStore(args.Models)
	if err != nil {
		return err
	}

	deps := service.Dependencies{Logger: logger}
	if args.Database != "" {
		history, err := db.Open(args.Database)
		if err != nil {
			return err
		}
		defer history.Close()
		deps.History = history
	}

	config := service.Config{
		Estimators: args.Estimators,
		Seed:       args.Seed,
		Loader:     pipeline.LoaderConfig{Delimiter: args.Delimiter, Encoding: args.Encoding},
	}
	var bar *pb.ProgressBar
	if !args.Quiet {
		bar = pb.New(args.Estimators).SetWriter(os.Stderr).Start()
		config.Progress = func(done, total int) { bar.SetCurrent(int64(done)) }
	}

	svc, err := service.NewModelService(config, store, deps)
	if err != nil {
		return err
	}
	result, err := svc.Train(ctx, service.TrainRequest{
		DataPath:   args.Data,
		TargetCol:  args.Target,
		SourceKind: kind,
	})
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	logger.Debug("training finished", zap.String("run_id", result.RunID))
	printResult(out, result, svc.ModelPath())
	return nil
}

func printResult(out io.Writer, result *service.TrainResult, modelPath string) {
	names := make([]string, 0, len(result.FeatureImportances))
	for name := range result.FeatureImportances {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := result.FeatureImportances[names[i]], result.FeatureImportances[names[j]]
		if a != b {
			return a > b
		}
		return names[i] < names[j]
	})

	fmt.Fprintf(out, "rows=%d accuracy=%.4f (training data)\n", result.DataPoints, result.Accuracy)
	for _, name := range names {
		fmt.Fprintf(out, "%-24s %.4f\n", name, result.FeatureImportances[name])
	}
	fmt.Fprintf(out, "model saved to %s\n", modelPath)
}
