package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"macdb/internal/config"
	"macdb/internal/ingest"
	"macdb/internal/logger"
	"macdb/internal/lookup"
	"macdb/internal/metrics"
	"macdb/internal/prefix"
	"macdb/internal/store"
	"macdb/internal/utils"
	"macdb/internal/vendor"

	"github.com/spf13/pflag"
)

const (
	exitOK     = 0
	exitLookup = 1
	exitCache  = 2
	exitUpdate = 3
	exitUsage  = 64
)

type options struct {
	addrs       []string
	names       []string
	update      bool
	file        string
	url         string
	format      string
	cache       string
	metricsFile string
	verbose     bool
	export      bool
}

// run：解析参数并执行；返回进程退出码
// 背景：与 main 分离，便于在测试中以不同参数与环境反复调用
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "macdb: invalid configuration: %v\n", err)
		return exitUsage
	}

	var opts options
	fs := pflag.NewFlagSet("macdb", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringArrayVarP(&opts.addrs, "addr", "a", nil, "look up vendor by MAC address or prefix (repeatable)")
	fs.StringArrayVarP(&opts.names, "name", "n", nil, "look up vendors whose name contains the given text (repeatable)")
	fs.BoolVarP(&opts.update, "update", "u", false, "replace the cache with a fresh copy of the feed")
	fs.StringVarP(&opts.file, "file", "f", "", "read the feed from a local file instead of downloading it")
	fs.StringVar(&opts.url, "url", cfg.FeedURL, "feed download URL")
	fs.StringVarP(&opts.format, "format", "o", "regular", "output format: regular, csv, json or xml")
	fs.StringVar(&opts.cache, "cache", cfg.CachePath, "cache file path")
	fs.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	fs.BoolVar(&opts.export, "export", false, "write every cached record in the chosen format")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: macdb [--addr ADDR]... [--name NAME]... [--update [--file PATH]] [--export] [flags]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	level := cfg.LogLevel
	if opts.verbose {
		level = "debug"
	}
	logger.Configure(level, cfg.LogFormat, stderr)
	l := logger.L()

	format, err := vendor.ParseFormat(opts.format)
	if err != nil {
		fmt.Fprintf(stderr, "macdb: %v\n", err)
		return exitUsage
	}
	lookups := len(opts.addrs) > 0 || len(opts.names) > 0
	if !lookups && !opts.update && !opts.export {
		fs.Usage()
		return exitUsage
	}
	if opts.export && lookups {
		fmt.Fprintln(stderr, "macdb: --export cannot be combined with --addr or --name")
		return exitUsage
	}
	if opts.metricsFile != "" {
		defer func() {
			if err := metrics.WriteTextfile(opts.metricsFile); err != nil {
				l.Warn("metrics_write_error", "path", opts.metricsFile, "err", err)
			}
		}()
	}

	src := ingest.Source{
		URL:    opts.url,
		Path:   opts.file,
		Limit:  cfg.FeedMaxBytes,
		Client: &http.Client{Timeout: cfg.HTTPTimeout, Transport: logger.Transport(logger.With("ingest"), nil)},
	}

	if opts.update {
		if code := update(ctx, opts.cache, src, stderr); code != exitOK {
			return code
		}
		if !lookups && !opts.export {
			return exitOK
		}
	}

	rc, code := openForQuery(ctx, opts.cache, src, !opts.update, stderr)
	if code != exitOK {
		return code
	}
	defer rc.Close()

	if opts.export {
		vs, err := rc.Export(ctx)
		if err != nil {
			return fail(stderr, exitCache, err)
		}
		if err := vendor.WriteAll(stdout, format, vs); err != nil {
			return fail(stderr, exitCache, err)
		}
		return exitOK
	}

	redisClient := utils.PingRedis(ctx, utils.OpenRedis(cfg.Redis))
	if redisClient != nil {
		defer redisClient.Close()
	}
	svc := lookup.New(rc, lookup.NewRedisMemo(redisClient), cfg.MemoTTL)

	found := make(map[uint64]vendor.Vendor)
	if len(opts.addrs) > 0 {
		vs, err := svc.ByAddress(ctx, opts.addrs...)
		if err != nil {
			return fail(stderr, exitLookup, err)
		}
		for _, v := range vs {
			found[v.Prefix] = v
		}
	}
	if len(opts.names) > 0 {
		vs, err := svc.ByName(ctx, opts.names...)
		if err != nil {
			return fail(stderr, exitLookup, err)
		}
		for _, v := range vs {
			found[v.Prefix] = v
		}
	}

	results := make([]vendor.Vendor, 0, len(found))
	for _, v := range found {
		results = append(results, v)
	}
	slices.SortFunc(results, func(a, b vendor.Vendor) int {
		switch {
		case a.Prefix < b.Prefix:
			return -1
		case a.Prefix > b.Prefix:
			return 1
		}
		return 0
	})

	if len(results) == 0 && format == vendor.FormatRegular {
		fmt.Fprintln(stdout, "no matches found")
		return exitOK
	}
	if err := vendor.WriteAll(stdout, format, results); err != nil {
		return fail(stderr, exitLookup, err)
	}
	return exitOK
}

// update：获取数据源并原子替换缓存
// 约束：数据源获取失败时不打开也不创建缓存文件；替换失败时旧文件保持原字节
func update(ctx context.Context, path string, src ingest.Source, stderr io.Writer) int {
	start := time.Now()
	r, err := src.Acquire(ctx)
	if err != nil {
		metrics.RecordUpdate(false, 0, 0, msSince(start))
		return fail(stderr, exitUpdate, err)
	}

	res, err := store.Update(ctx, path, r)
	if err != nil {
		metrics.RecordUpdate(false, 0, 0, msSince(start))
		if errors.Is(err, store.ErrNotCacheFile) {
			return fail(stderr, exitCache, err)
		}
		return fail(stderr, exitUpdate, err)
	}
	metrics.RecordUpdate(true, res.Inserted, res.Skipped, msSince(start))
	for _, c := range res.Corrections {
		fmt.Fprintf(stderr, "macdb: warning: %s\n", c)
	}
	logger.L().Info("cache_updated", "path", path, "records", res.Inserted, "skipped", res.Skipped)
	return exitOK
}

// openForQuery：打开只读缓存；缓存缺失、为空或版本过旧时先从数据源建立
func openForQuery(ctx context.Context, path string, src ingest.Source, bootstrap bool, stderr io.Writer) (*store.ReadCache, int) {
	rc, err := store.OpenRead(ctx, path)
	if err == nil {
		return rc, exitOK
	}
	if !bootstrap || !needsBootstrap(err) {
		return nil, fail(stderr, exitCache, err)
	}
	logger.L().Info("cache_bootstrap", "path", path, "reason", err)
	if code := update(ctx, path, src, stderr); code != exitOK {
		return nil, code
	}
	rc, err = store.OpenRead(ctx, path)
	if err != nil {
		return nil, fail(stderr, exitCache, err)
	}
	return rc, exitOK
}

func needsBootstrap(err error) bool {
	return errors.Is(err, store.ErrCacheAbsent) ||
		errors.Is(err, store.ErrMissingCacheData) ||
		errors.Is(err, store.ErrVersionMismatch)
}

func fail(stderr io.Writer, code int, err error) int {
	fmt.Fprintf(stderr, "macdb: %s\n", describe(err))
	return code
}

// describe：把错误链映射为面向用户的说明
func describe(err error) string {
	var pe *vendor.ParseError
	switch {
	case errors.Is(err, prefix.ErrAddressEmpty):
		return "empty MAC address"
	case errors.Is(err, prefix.ErrAddressTooShort):
		return "specified MAC address is too short: " + err.Error()
	case errors.Is(err, prefix.ErrAddressInvalid):
		return "specified MAC address contains invalid characters: " + err.Error()
	case errors.Is(err, prefix.ErrAddressNegative):
		return "specified MAC address is out of range: " + err.Error()
	case errors.Is(err, store.ErrEmptyName):
		return "empty vendor name"
	case errors.Is(err, store.ErrNotCacheFile):
		return "cache file is not a database: " + err.Error()
	case store.IsRetryable(err):
		return "cache is locked by another process, try again later"
	case errors.Is(err, ingest.ErrLocalFileNotFound):
		return "local feed file not found: " + err.Error()
	case errors.Is(err, ingest.ErrFeedTooLarge):
		return "feed is too large: " + err.Error()
	case errors.As(err, &pe):
		return "malformed feed, cache left unchanged: " + err.Error()
	}
	return err.Error()
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
