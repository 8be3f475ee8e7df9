package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noneback/mdexec/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mdexecctl",
	Short: "Drive the multi-device dataflow executor from the command line",
	Long: `mdexecctl builds and runs small control-flow graphs against the
executor package, useful for exercising loop/branch semantics without
writing a Go program.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		zcfg := zap.NewProductionConfig()
		if err := zcfg.Level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			return err
		}
		built, err := zcfg.Build()
		if err != nil {
			return err
		}
		log = built
		return nil
	},
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mdexecctl.yaml)")
}

// BinName returns the base name of the current executable.
func BinName() string {
	return filepath.Base(os.Args[0])
}
