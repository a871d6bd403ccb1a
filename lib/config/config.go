package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/go-i2p/logger"
	"github.com/smite-net/smite-node/lib/util"
	"github.com/spf13/viper"
)

var (
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const SMITE_BASE_DIR = ".smite-node"

// EnvPrefix namespaces the environment overrides.
const EnvPrefix = "SMITE"

// InitConfig loads defaults, the config file and the environment into viper.
// A missing default config file is created; a missing explicit CfgFile is an
// error.
func InitConfig() error {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildNodeDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnv()

	return handleConfigFile()
}

func setDefaults() {
	d := Defaults()

	viper.SetDefault("node.base_dir", d.Node.BaseDir)
	viper.SetDefault("node.manifest", d.Node.Manifest)

	setAdapterDefaults("rathole", d.Rathole)
	setAdapterDefaults("backhaul", d.Backhaul)

	viper.SetDefault("manager.workers", d.Manager.Workers)
	viper.SetDefault("manager.operation_timeout", d.Manager.OperationTimeout)
	viper.SetDefault("manager.reconcile_on_start", d.Manager.ReconcileOnStart)

	viper.SetDefault("usage.enabled", d.Usage.Enabled)
	viper.SetDefault("usage.interval", d.Usage.Interval)
	viper.SetDefault("usage.node_id", d.Usage.NodeID)

	viper.SetDefault("metrics.enabled", d.Metrics.Enabled)
	viper.SetDefault("metrics.listen_addr", d.Metrics.ListenAddr)
	viper.SetDefault("metrics.path", d.Metrics.Path)
}

func setAdapterDefaults(core string, a AdapterDefaults) {
	viper.SetDefault(core+".config_dir", a.ConfigDir)
	viper.SetDefault(core+".binary", a.Binary)
	viper.SetDefault(core+".confirm_window", a.ConfirmWindow)
	viper.SetDefault(core+".stop_timeout", a.StopTimeout)
	viper.SetDefault(core+".sample_interval", a.SampleInterval)
}

func bindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// legacy names, checked after the SMITE_ form
	_ = viper.BindEnv("rathole.binary", "SMITE_RATHOLE_BINARY", "RATHOLE_CLIENT_BINARY")
	_ = viper.BindEnv("backhaul.binary", "SMITE_BACKHAUL_BINARY", "BACKHAUL_CLIENT_BINARY")
	_ = viper.BindEnv("rathole.config_dir", "SMITE_RATHOLE_CONFIG_DIR", "SMITE_RATHOLE_CLIENT_DIR")
	_ = viper.BindEnv("backhaul.config_dir", "SMITE_BACKHAUL_CONFIG_DIR", "SMITE_BACKHAUL_CLIENT_DIR")
}

// CurrentConfig reads the live configuration out of viper.
func CurrentConfig() NodeConfig {
	return NodeConfig{
		Node: NodeDefaults{
			BaseDir:  viper.GetString("node.base_dir"),
			Manifest: viper.GetString("node.manifest"),
		},
		Rathole:  currentAdapter("rathole"),
		Backhaul: currentAdapter("backhaul"),
		Manager: ManagerDefaults{
			Workers:          viper.GetInt("manager.workers"),
			OperationTimeout: viper.GetDuration("manager.operation_timeout"),
			ReconcileOnStart: viper.GetBool("manager.reconcile_on_start"),
		},
		Usage: UsageDefaults{
			Enabled:  viper.GetBool("usage.enabled"),
			Interval: viper.GetDuration("usage.interval"),
			NodeID:   viper.GetString("usage.node_id"),
		},
		Metrics: MetricsDefaults{
			Enabled:    viper.GetBool("metrics.enabled"),
			ListenAddr: viper.GetString("metrics.listen_addr"),
			Path:       viper.GetString("metrics.path"),
		},
	}
}

func currentAdapter(core string) AdapterDefaults {
	return AdapterDefaults{
		ConfigDir:      viper.GetString(core + ".config_dir"),
		Binary:         viper.GetString(core + ".binary"),
		ConfirmWindow:  viper.GetDuration(core + ".confirm_window"),
		StopTimeout:    viper.GetDuration(core + ".stop_timeout"),
		SampleInterval: viper.GetDuration(core + ".sample_interval"),
	}
}

func createDefaultConfig(defaultConfigDir string) error {
	if err := CreateStandardDirectory(defaultConfigDir); err != nil {
		return err
	}
	defaultConfigFile := filepath.Join(defaultConfigDir, "config.yaml")
	if err := viper.SafeWriteConfigAs(defaultConfigFile); err != nil {
		return err
	}
	log.Debugf("Created default configuration at: %s", defaultConfigFile)
	return nil
}

func handleConfigFile() error {
	err := viper.ReadInConfig()
	if err == nil {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		if CfgFile != "" && errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).WithField("config_file", CfgFile).Error("config file not found")
		}
		return err
	}
	return createDefaultConfig(BuildNodeDirPath())
}

// BuildNodeDirPath returns $HOME/.smite-node.
func BuildNodeDirPath() string {
	return filepath.Join(util.UserHome(), SMITE_BASE_DIR)
}
