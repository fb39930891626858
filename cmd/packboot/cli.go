package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tgulacsi/wrap"

	revive "github.com/reviveMC74/reviveMC74"
)

const promptCols = 60

const cliWelcome = `Drag the boot image (e.g. rmcBoot.img) into this window, or type its path, then press [Enter].`

func cliPrompt(out io.Writer, msg string) {
	fmt.Fprintf(out, "\n%s\n\n> ", wrap.String(msg, promptCols))
}

// unquote strips the quotes terminals add around dropped paths.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if q := s[0]; (q == '"' || q == '\'') && s[len(s)-1] == q {
			return s[1 : len(s)-1]
		}
	}

	return s
}

// checkImagePath returns why path can't be used, or "" if it can. The
// image need not exist yet when mustExist is false, as with pack.
func checkImagePath(path string, mustExist bool) string {
	if path == "" {
		return "That wasn't the path to a file."
	}
	if !mustExist {
		return ""
	}

	fi, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return "That file doesn't exist."
	case err != nil:
		return fmt.Sprintf("Couldn't check %q: %v.", path, err)
	case fi.IsDir():
		return "That's a folder, not a file."
	case fi.Size() < revive.MinImageSize:
		return fmt.Sprintf("That file is only %d bytes, too small to be a boot image.", fi.Size())
	}

	return ""
}

// cliGetInputPath asks for the image path until a usable one is given.
func cliGetInputPath(mustExist bool) string {
	cliPrompt(os.Stdout, cliWelcome)
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		path := unquote(scanner.Text())
		if msg := checkImagePath(path, mustExist); msg != "" {
			cliPrompt(os.Stdout, msg+" Try dragging and dropping a boot image here.")
			continue
		}

		fmt.Println()
		return path
	}

	fmt.Println()
	os.Exit(2)
	return ""
}
