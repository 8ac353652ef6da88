package serve

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/ValentinKolb/hKV/cmd/util"
	"github.com/ValentinKolb/hKV/lib/registry"
	"github.com/ValentinKolb/hKV/rpc/common"
	"github.com/ValentinKolb/hKV/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start the hKV server",
		Long: `Start the hKV server with the specified configuration. The configuration can be set via command line flags, environment variables or a config file (--config). The format of the environment variables is HKV_<flag> (e.g. HKV_DATA_DIR=/var/lib/hkv).

Environments, databases and function tables are configured in the config file (yaml, toml or json):

  data-dir: /var/lib/hkv
  defaults:
    engine: bolt
    compression: snappy
  functions:
    patch: deep
  environments:
    shop:
      options:
        engine: pebble
      databases:
        users: {}
        orders:
          functions:
            move: none
  dynamic-environment: {}
  dynamic-database: {}`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitEnv)

	key := "config"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Path of a config file describing environments, databases and function tables"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080)"))

	key = "prefix"
	ServeCmd.PersistentFlags().String(key, "/data", cmdUtil.WrapString("The route prefix of the data api"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 30, cmdUtil.WrapString("Request timeout in seconds (0 disables it)"))

	key = "max-body-mb"
	ServeCmd.PersistentFlags().Int64(key, 16, cmdUtil.WrapString("Largest accepted request body in MB"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("Directory holding one sub directory per environment"))

	key = "engine"
	ServeCmd.PersistentFlags().String(key, registry.EngineBolt, cmdUtil.WrapString("Default storage engine of environments (bolt, pebble, memory)"))

	key = "compression"
	ServeCmd.PersistentFlags().String(key, "snappy", cmdUtil.WrapString("Default value compression (none, snappy, zstd, lz4)"))

	key = "no-sync"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Skip fsync on commit (faster, may lose the last writes on a crash)"))

	key = "keep-warm"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Keep environments open when no request is using them"))

	key = "dynamic"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Create environments and databases that are not configured on first use"))
}

// processConfig reads the configuration from the command line flags, environment variables and config file
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// the config file only describes the registry, flags and env override it
	reg := registry.Config{}
	if path := viper.GetString("config"); path != "" {
		file := viper.New()
		file.SetConfigFile(path)
		if err := file.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := file.Unmarshal(&reg); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if cmd.Flags().Changed("data-dir") || reg.DataDir == "" {
		reg.DataDir = viper.GetString("data-dir")
	}
	if cmd.Flags().Changed("engine") || reg.Defaults.Engine == "" {
		reg.Defaults.Engine = viper.GetString("engine")
	}
	if cmd.Flags().Changed("compression") || reg.Defaults.Compression == "" {
		reg.Defaults.Compression = viper.GetString("compression")
	}
	if viper.GetBool("no-sync") {
		noSync := true
		reg.Defaults.NoSync = &noSync
	}
	if viper.GetBool("keep-warm") {
		reg.KeepWarm = true
	}
	if viper.GetBool("dynamic") {
		if reg.DynamicEnvironment == nil {
			reg.DynamicEnvironment = &registry.EnvironmentConfig{}
		}
		if reg.DynamicDatabase == nil {
			reg.DynamicDatabase = &registry.DatabaseConfig{}
		}
	}
	if err := reg.Validate(); err != nil {
		return err
	}

	serveCmdConfig.Registry = reg
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Prefix = viper.GetString("prefix")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MaxBodyMB = viper.GetInt64("max-body-mb")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the hKV server and blocks until SIGINT or SIGTERM
func run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := registry.New(serveCmdConfig.Registry)
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			server.Logger.Errorf("failed to close registry: %v", err)
		}
	}()

	// open every static database once so configuration errors surface at startup
	if err := reg.Init(ctx); err != nil {
		return err
	}

	return server.NewServer(*serveCmdConfig, reg).Serve(ctx)
}
