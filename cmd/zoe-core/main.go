// zoe-core runs the Zoe request pipeline.
//
// Usage:
//
//	zoe-core serve                         # HTTP on :8080, gRPC on :50051
//	zoe-core serve -c ./config/zoe.yaml
//	zoe-core classify "turn on the kitchen lights"
//	zoe-core plan "create an event tomorrow and add milk to the shopping list"
//
// Every setting can be overridden with ZOE_* environment variables, for
// example ZOE_SERVER_HTTP_ADDR=:9090 or ZOE_CORE_MAX_PARALLEL=2.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/config"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
)

// app carries what every subcommand needs after flag parsing.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.AppConfig
	logger     *logging.ZeroLogger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "zoe-core",
		Short:         "Zoe assistant request pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default zoe.yaml in . or ./config)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(newServeCmd(a), newClassifyCmd(a), newPlanCmd(a))
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg
	config.SetCoreConfig(cfg.Core)
	a.logger = logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: cfg.Tracing.ServiceName,
		Output:  cmd.ErrOrStderr(),
	})
	return nil
}
