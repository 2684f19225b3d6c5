package cmd

import (
	"os"
	"path"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/zhengshuai-xiao/DSync/internal"
	"github.com/zhengshuai-xiao/DSync/pkg/catalog"
	"github.com/zhengshuai-xiao/DSync/pkg/dataset"
	"github.com/zhengshuai-xiao/DSync/pkg/executor"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "loglevel",
			Usage: "log level: trace/debug/info/warn/error",
			Value: "info",
		},
		&cli.StringFlag{
			Name:  "logdir",
			Usage: "write logs to this directory instead of stderr",
			Value: "",
		},
		&cli.BoolFlag{
			Name:  "no-color",
			Usage: "disable log colors",
		},
		&cli.StringFlag{
			Name:    "catalog-addr",
			Usage:   "base URL of the dataset catalog service",
			Value:   "http://127.0.0.1:8085",
			EnvVars: []string{"DSYNC_CATALOG_ADDR"},
		},
		&cli.StringFlag{
			Name:    "catalog-token",
			Usage:   "bearer token for the catalog service",
			EnvVars: []string{"DSYNC_CATALOG_TOKEN"},
		},
	}
}

// transferFlags tune the worker pool and the manifest cache, shared by all
// four transfer commands.
func transferFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "processes",
			Usage: "number of worker groups",
			Value: 1,
		},
		&cli.IntFlag{
			Name:  "threads",
			Usage: "workers per group",
			Value: 4,
		},
		&cli.IntFlag{
			Name:  "max-retries",
			Usage: "retry budget per object for transient errors",
			Value: 3,
		},
		&cli.StringFlag{
			Name:  "cache",
			Usage: "manifest cache backend: memory/disk/redis",
			Value: "memory",
		},
		&cli.StringFlag{
			Name:  "cache-dir",
			Usage: "base directory for the disk manifest cache",
			Value: "",
		},
		&cli.StringFlag{
			Name:  "cache-redis-addr",
			Usage: "redis address for the redis manifest cache, host:port[/db]",
			Value: "127.0.0.1:6379/1",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "disable progress reporting",
		},
	}
}

func expandFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func setupLogging(c *cli.Context) {
	switch c.String("loglevel") {
	case "trace":
		internal.SetLogLevel(logrus.TraceLevel)
	case "debug":
		internal.SetLogLevel(logrus.DebugLevel)
	case "info":
		internal.SetLogLevel(logrus.InfoLevel)
	case "warn":
		internal.SetLogLevel(logrus.WarnLevel)
	case "error":
		internal.SetLogLevel(logrus.ErrorLevel)
	default:
		internal.SetLogLevel(logrus.InfoLevel)
	}
	if c.Bool("no-color") || !isatty.IsTerminal(os.Stderr.Fd()) {
		internal.DisableLogColor()
	}
	if logDir := c.String("logdir"); logDir != "" {
		internal.SetOutFile(path.Join(logDir, "dsync.log"))
	}
}

// setup assembles the transfer engine from the global and per-command flags.
func setup(c *cli.Context) *dataset.Engine {
	setupLogging(c)

	cfg := dataset.Config{
		Params: executor.Params{
			Processes:  c.Int("processes"),
			Threads:    c.Int("threads"),
			MaxRetries: c.Int("max-retries"),
		},
		Cache:     dataset.CacheKind(c.String("cache")),
		CacheDir:  c.String("cache-dir"),
		RedisAddr: c.String("cache-redis-addr"),
	}
	cat := catalog.NewRestCatalog(c.String("catalog-addr"), c.String("catalog-token"))
	engine := dataset.NewEngine(cat, catalog.EnvCredentialProvider{}, cfg)
	if !c.Bool("quiet") {
		engine.Progress = executor.NewLogProgress(0)
	}
	return engine
}

func keyValues(raw []string) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, found := cutKV(kv)
		if !found {
			logger.Fatalf("expected key=value, got %q", kv)
		}
		out[k] = v
	}
	return out
}

func cutKV(kv string) (string, string, bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return kv, "", false
}
