package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/EHfive/sopsfs/multifs"
	"github.com/EHfive/sopsfs/sopstool"
)

var rootCmd = &cobra.Command{
	Use:   "sopsfs",
	Short: "Browse and edit SOPS-encrypted documents as a filesystem",
	Long: `sopsfs projects SOPS-encrypted documents (JSON, YAML, INI, dotenv or
binary) as a virtual filesystem: leaves are files, objects and arrays are
directories, and a synthetic raw_data entry exposes the whole decrypted
payload. Edits are transparently re-encrypted through the sops executable.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(*cobra.Command, []string) {
		if viper.GetBool("verbose") {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ~/.config/sopsfs/config.yaml)")
	pf.String("sops", "", "sops executable name or path (default: sops)")
	pf.StringToString("env", nil, "extra environment for sops invocations (repeatable, k=v)")
	pf.Int("cache-size", multifs.DefaultCacheSize, "maximum concurrently open documents")
	pf.BoolP("verbose", "v", false, "debug output")

	_ = viper.BindPFlag("sops", pf.Lookup("sops"))
	_ = viper.BindPFlag("env", pf.Lookup("env"))
	_ = viper.BindPFlag("cache_size", pf.Lookup("cache-size"))
	_ = viper.BindPFlag("verbose", pf.Lookup("verbose"))
}

func initConfig() {
	if cfg, _ := rootCmd.PersistentFlags().GetString("config"); cfg != "" {
		viper.SetConfigFile(cfg)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "sopsfs"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SOPSFS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logrus.WithField("config", viper.ConfigFileUsed()).Debug("loaded config file")
	}
}

// newRegistry builds the document registry from the effective configuration.
func newRegistry() (*multifs.Registry, error) {
	opts := []sopstool.Option{}

	if exe := viper.GetString("sops"); exe != "" {
		opts = append(opts, sopstool.WithExecutable(exe))
	}

	if env := viper.GetStringMapString("env"); len(env) > 0 {
		opts = append(opts, sopstool.WithEnv(env))
	}

	return multifs.New(
		multifs.WithTool(sopstool.New(opts...)),
		multifs.WithCacheSize(viper.GetInt("cache_size")),
	)
}
