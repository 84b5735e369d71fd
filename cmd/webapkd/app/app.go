package app

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	genericapiserver "k8s.io/apiserver/pkg/server"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/term"

	"github.com/autopeer-io/webapkd/cmd/webapkd/app/options"
	"github.com/autopeer-io/webapkd/pkg/log"
)

const (
	commandName = "webapkd"
	commandDesc = `webapkd keeps installed WebAPKs in sync with their Web Manifests. It
checks the live manifest when an app is launched, decides whether the
installed package is out of date and hands update requests to the
installer over MQTT.`

	envPrefix = "WEBAPKD"
)

// NewWebapkdCommand returns the root command with the serve, status, force
// and forget subcommands.
func NewWebapkdCommand() *cobra.Command {
	opts := options.NewServerOptions()
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:          commandName,
		Short:        "WebAPK update daemon",
		Long:         commandDesc,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadConfig(v, cmd.Flags(), configFile, opts); err != nil {
				return err
			}
			if err := opts.Complete(); err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return err
			}
			log.Init(opts.Log)
			return nil
		},
	}

	pfs := cmd.PersistentFlags()
	pfs.StringVar(&configFile, "config", "", "Path to a YAML, TOML or JSON config file. Changes to update.enabled are applied without a restart.")
	namedfs := opts.Flags()
	for _, f := range namedfs.FlagSets {
		pfs.AddFlagSet(f)
	}
	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, namedfs, cols)

	cmd.AddCommand(
		newServeCommand(opts, v, &configFile),
		newStatusCommand(opts),
		newForceCommand(opts),
		newForgetCommand(opts),
	)
	return cmd
}

func newServeCommand(opts *options.ServerOptions, v *viper.Viper, configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the update daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer log.Sync()
			ctx := genericapiserver.SetupSignalContext()

			cfg, err := opts.Config()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			srv, err := cfg.NewServer()
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			if *configFile != "" {
				v.OnConfigChange(func(e fsnotify.Event) {
					enabled := v.GetBool("update.enabled")
					log.Info("Config file changed", "file", e.Name, "op", e.Op.String(), "updateEnabled", enabled)
					srv.Apps().SetEnabled(enabled)
				})
				v.WatchConfig()
			}

			return srv.Run(ctx)
		},
	}
}

// loadConfig layers flags, WEBAPKD_* environment variables and the config
// file into opts. Explicit flags win over the environment, which wins over
// the file.
func loadConfig(v *viper.Viper, fs *pflag.FlagSet, configFile string, opts *options.ServerOptions) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}
	if err := v.Unmarshal(opts); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	return nil
}
