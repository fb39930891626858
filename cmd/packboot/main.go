package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	flag "github.com/spf13/pflag"

	revive "github.com/reviveMC74/reviveMC74"
)

func checkMsg(err error, msg string) {
	if err != nil {
		fmt.Printf(" ! Error %s!\n", msg)
		fmt.Printf(" ! %s\n", err.Error())
		os.Exit(2)
	}
}

func usage() {
	fmt.Println("Usage: packboot {-s size} [-r] pack|unpack|patch|info <filename>")
	flag.PrintDefaults()
}

func main() {
	var partSize int
	var reverse bool
	var verbose bool

	flag.IntVarP(&partSize, "partition-size", "s", revive.PartitionSize, "Exact boot partition size in bytes, 0 to skip the size check.")
	flag.BoolVarP(&reverse, "revert", "r", false, "Revert a previously patched ramdisk (patch only).")
	flag.BoolVarP(&verbose, "verbose", "v", false, "Log each edit.")

	fmt.Print("packboot: MC74 boot image unpacker and repacker\n\n")

	flag.ErrHelp = errors.New("")
	flag.Parse()

	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	op := flag.Arg(0)
	var inputPath string
	if flag.NArg() > 1 {
		inputPath = flag.Arg(1)
	} else {
		interactive := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
		if !interactive {
			usage()
			os.Exit(2)
		}

		defer func() {
			fmt.Print("\n\nPress any key to continue...")
			reader := bufio.NewReader(os.Stdin)
			reader.ReadRune()
		}()
		inputPath = cliGetInputPath(op != "pack")
	}

	opts := revive.Options{PartitionSize: partSize}

	switch op {
	case "unpack":
		unpackImage(inputPath, opts)
	case "pack":
		packImage(inputPath, opts)
	case "patch":
		patchImage(inputPath, opts, reverse)
	case "info":
		infoImage(inputPath)
	default:
		fmt.Printf(" ! Unknown operation '%s'!\n", op)
		usage()
		os.Exit(2)
	}
}
