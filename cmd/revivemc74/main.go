// Command revivemc74 unlocks a Meraki MC74 and installs the revival apps.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/reviveMC74/reviveMC74/internal/config"
	"github.com/reviveMC74/reviveMC74/internal/device"
	"github.com/reviveMC74/reviveMC74/internal/logutil"
	"github.com/reviveMC74/reviveMC74/internal/objective"
	"github.com/reviveMC74/reviveMC74/internal/run"
)

func main() {
	if err := newApp().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, " ! Error:", err)
		os.Exit(1)
	}
}

func newApp() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "revivemc74 [objective] [flags]",
		Short: "Revive a Meraki MC74 as a VOIP phone",
		Long: `Carries out the named objective along with every objective it
depends on. The default objective, revive, roots the boot partition,
installs the replacement phone apps and starts them.`,
		Example: `  Revive the phone:
  $ revivemc74

  Back up the recovery partition only:
  $ revivemc74 backupPart --part recovery

  List the objectives:
  $ revivemc74 list`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runObjective,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML file overriding the default settings")
	flags.Bool("debug", false, "Log debug messages")
	flags.StringP("workdir", "C", ".", "Directory holding the images and installFiles")
	rootCmd.Flags().String("part", "", "Partition to back up, fix or flash (default boot)")
	rootCmd.Flags().String("img", "", "Image file to use instead of rmc<Part>.img")
	rootCmd.Flags().Bool("dual", true, "Also flash the <part>2 partition")
	rootCmd.Flags().String("mode", "adb", "Mode for the adbMode objective [adb, recovery, normal, fastboot]")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the objectives",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			objective.List(cmd.OutOrStdout())
		},
	})

	return rootCmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if dir, _ := cmd.Flags().GetString("workdir"); cmd.Flags().Changed("workdir") {
		cfg.WorkDir = dir
	}
	if part, _ := cmd.Flags().GetString("part"); part != "" {
		cfg.Partition = part
		// Only the boot partition has a mirror by default.
		cfg.DualPartition = part == "boot"
	}
	if cmd.Flags().Changed("dual") {
		cfg.DualPartition, _ = cmd.Flags().GetBool("dual")
	}
	if img, _ := cmd.Flags().GetString("img"); img != "" {
		cfg.Image = img
	}

	return cfg, cfg.Validate()
}

func runObjective(cmd *cobra.Command, args []string) error {
	name := string(objective.Revive)
	if len(args) > 0 {
		name = args[0]
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	debug, _ := cmd.Flags().GetBool("debug")
	closer, err := logutil.Setup(logrus.StandardLogger(), filepath.Join(cfg.WorkDir, cfg.LogFile), cmd.OutOrStdout(), debug)
	if err != nil {
		return err
	}
	defer closer.Close()

	logrus.Infof("reviveMC74 %s %s", name, strings.Repeat("-", 40))

	modeName, _ := cmd.Flags().GetString("mode")
	mode, ok := device.ParseMode(modeName)
	if !ok {
		return fmt.Errorf("unknown mode %q", modeName)
	}

	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		logrus.Warn("stdin is not a terminal; prompts will wait for input on stdin")
	}

	bridge := device.New(&run.Exec{},
		&device.ConsolePrompter{In: cmd.InOrStdin(), Out: cmd.OutOrStdout()},
		device.Config{
			PollAttempts: cfg.PollAttempts,
			PollInterval: cfg.PollInterval,
			BlockPrefix:  cfg.BlockPrefix,
			CacheDir:     cfg.CacheDir,
		})

	s := objective.New(cfg, bridge, cmd.OutOrStdout())
	s.TargetMode = mode

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = s.Run(ctx, name)
	if errors.Is(err, objective.ErrUnknownObjective) {
		return fmt.Errorf("%w; objective names are case sensitive", err)
	}

	return err
}
