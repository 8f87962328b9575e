package main

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "multiverse",
	Short: "Branching conversation engine: chat is a tree, not a line",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogger()
	},
}

func initLogger() error {
	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", viper.GetString("log-level"))
	}
	zerolog.SetGlobalLevel(level)

	switch viper.GetString("log-format") {
	case "json":
		log.Logger = log.Output(os.Stderr)
	case "text":
		w := zerolog.NewConsoleWriter()
		w.Out = os.Stderr
		w.NoColor = !isatty.IsTerminal(os.Stderr.Fd())
		log.Logger = log.Output(w)
	default:
		return errors.Errorf("invalid log format %q", viper.GetString("log-format"))
	}
	return nil
}

func main() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	viper.SetEnvPrefix("MULTIVERSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	cobra.CheckErr(viper.BindPFlags(rootCmd.PersistentFlags()))

	rootCmd.AddCommand(newServeCommand())

	cobra.CheckErr(rootCmd.Execute())
}
