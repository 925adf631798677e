package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chaos-io/cutout/cache"
	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/cutout"
	"github.com/chaos-io/cutout/logging"
	"github.com/chaos-io/cutout/segment"
	"github.com/chaos-io/cutout/server"
	"github.com/chaos-io/cutout/store"
	"github.com/chaos-io/cutout/util"
	nhttp "github.com/chaos-io/cutout/util/http"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	serve := flag.Bool("serve", false, "run the HTTP API")
	input := flag.String("in", "", "input image path or http(s) url")
	output := flag.String("out", "cutout.png", "output png path")
	crop := flag.Bool("crop", false, "crop to the subject's bounding box")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := newPipeline(cfg)
	if err != nil {
		logger.Fatal("init pipeline failed", zap.Error(err))
	}

	if *serve {
		err = runServer(ctx, cfg, pipeline, logger)
	} else {
		err = runOnce(ctx, pipeline, *input, *output, *crop, logger)
	}
	if err != nil {
		logger.Fatal("cutout failed", zap.Error(err))
	}
}

func newPipeline(cfg *config.Config) (*cutout.Pipeline, error) {
	cli := nhttp.NewHTTPClientWithTimeout(cfg.Segmentation.RemoteTimeout)
	factory, err := segment.NewFactory(cfg.Segmentation, cli)
	if err != nil {
		return nil, err
	}
	classifier := cutout.Classifier{
		Threshold: uint8(cfg.Classifier.Threshold),
		MinRatio:  cfg.Classifier.MinRatio,
	}
	return cutout.New(factory, cutout.WithClassifier(classifier)), nil
}

func runOnce(ctx context.Context, p *cutout.Pipeline, input, output string, crop bool, logger *zap.Logger) error {
	if input == "" {
		return fmt.Errorf("-in is required unless -serve is set")
	}
	defer util.Trace("cutout " + input)()

	var (
		img image.Image
		err error
	)
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		img, err = util.DownloadImage(ctx, input)
	} else {
		img, err = util.OpenImage(input)
	}
	if err != nil {
		return logging.NewOperationError("load_image", "", err)
	}

	outcome, err := p.Run(ctx, img, crop)
	if err != nil {
		return logging.NewOperationError("pipeline.run", "", err)
	}
	if !outcome.ForegroundDetected {
		logger.Warn("no foreground detected, writing the original image",
			zap.Int("foreground_pixels", outcome.Classification.ForegroundPixels),
			zap.Int("total_pixels", outcome.Classification.TotalPixels))
	}

	if err := util.SavePNG(output, outcome.Image); err != nil {
		return logging.NewOperationError("save_image", "", err)
	}

	logger.Info("done",
		zap.String("output", output),
		zap.Bool("foreground", outcome.ForegroundDetected),
		zap.Bool("cropped", outcome.Cropped),
		zap.Stringer("bounds", outcome.Bounds))
	return nil
}

func runServer(ctx context.Context, cfg *config.Config, p *cutout.Pipeline, logger *zap.Logger) error {
	st, err := store.New(cfg.Store.Dir)
	if err != nil {
		return err
	}

	var outcomes *cache.Outcomes
	if cfg.Redis.Addr != "" {
		redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := cache.Dial(redisCtx, cfg.Redis.Addr)
		cancel()
		if err != nil {
			return err
		}
		defer client.Close()
		outcomes = cache.NewOutcomes(cache.NewRedisCache(client), cfg.Redis.TTL)
	}

	janitor, err := store.NewJanitor(st, cfg.Store.PruneSchedule, cfg.Store.TTL, logger)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}

	srv := server.New(p, st, outcomes, cfg.Server, logger)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(groupCtx, listener, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		return janitor.Run(groupCtx)
	})

	err = g.Wait()
	logger.Info("shut down", zap.Error(err))
	return err
}
