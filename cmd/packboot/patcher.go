package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	revive "github.com/reviveMC74/reviveMC74"
)

func checkWrap(err error) {
	if err != nil {
		wrapped := revive.GetErrors(err)
		err1 := wrapped[0]
		if strings.ContainsRune(err1, ';') {
			err1 = err1[:strings.IndexByte(err1, ';')+1]
		}

		if err1 == "" {
			err1 = "processing image"
		}
		fmt.Printf(" ! Error %s!\n", err1)
		fmt.Printf(" ! %s\n", wrapped[1])
		if errors.Is(err, revive.ErrStructuralMismatch) {
			fmt.Println(" ! Refusing to continue; the image does not fit the MC74 boot partition.")
		}
		os.Exit(2)
	}
}

func unpackImage(inputPath string, opts revive.Options) {
	l := revive.NewLayout(inputPath)

	fmt.Println(" - Extracting image")
	img, err := revive.Unpack(inputPath, opts)
	checkWrap(err)

	fmt.Print(img.Summary())
	fmt.Printf(" - Finished! Components are in '%s', ramdisk in '%s'.\n", l.UnpackDir(), l.RamdiskDir())
}

func packImage(inputPath string, opts revive.Options) {
	fmt.Println(" - Archiving & compressing ramdisk")
	fmt.Println(" - Repacking & writing image")
	out, err := revive.Pack(inputPath, opts)
	checkWrap(err)

	fmt.Printf(" - Finished! Output is '%s'.\n", out)
}

func patchImage(inputPath string, opts revive.Options, reverse bool) {
	l := revive.NewLayout(inputPath)

	fmt.Println(" - Extracting image")
	_, err := revive.Unpack(inputPath, opts)
	checkWrap(err)

	dir := revive.ReplNormal
	if reverse {
		fmt.Println(" - Reverting ramdisk patches")
		dir = revive.ReplReverse
	} else {
		fmt.Println(" - Patching ramdisk")
	}
	checkWrap(revive.FixRamdisk(l.RamdiskDir(), dir))

	packImage(inputPath, opts)
}

func infoImage(inputPath string) {
	in, err := os.Open(inputPath)
	checkMsg(err, "opening image for reading")
	defer in.Close()

	img, err := revive.UnpackImage(in)
	checkWrap(err)

	fmt.Print(img.Summary())

	l := revive.NewLayout(inputPath)
	for _, dir := range []string{l.UnpackDir(), l.RamdiskDir()} {
		sigs, err := revive.Signatures(dir)
		if err != nil {
			continue
		}

		fmt.Printf("\n%s:\n", dir)
		for _, s := range sigs {
			fmt.Println(s)
		}
	}
}
