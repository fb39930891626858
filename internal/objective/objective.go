// Package objective sequences the revival steps. Each objective runs
// the objectives it depends on before doing its own work.
package objective

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/sirupsen/logrus"

	"github.com/reviveMC74/reviveMC74/internal/config"
	"github.com/reviveMC74/reviveMC74/internal/device"
	"github.com/reviveMC74/reviveMC74/internal/run"
)

// Name identifies an objective.
type Name string

const (
	ListObjectives  Name = "listObjectives"
	CheckFiles      Name = "checkFiles"
	ADBMode         Name = "adbMode"
	ReplaceRecovery Name = "replaceRecovery"
	BackupPart      Name = "backupPart"
	FixPart         Name = "fixPart"
	FlashPart       Name = "flashPart"
	InstallApps     Name = "installApps"
	StartPhone      Name = "startPhone"
	Revive          Name = "revive"
	Version         Name = "version"
	ResetBFF        Name = "resetBFF"
)

// Objective describes one entry of the objective table.
type Objective struct {
	Name Name
	Desc string
	// Hidden objectives are omitted from the listing.
	Hidden bool
}

// All lists the objectives in the order they are normally performed.
var All = []Objective{
	{ListObjectives, "(optional) Lists all objectives", false},
	{CheckFiles, "Verifies that you have the needed files, apps, images, and programs.", false},
	{ADBMode, "Gets device into 'adb' mode, or 'fastboot' or 'normal' operation.", false},
	{ReplaceRecovery, "Replace the recovery partition with a full featured recovery program", false},
	{BackupPart, "Backs up boot (or other specified partition).", false},
	{FixPart, "Changes default.prop file on the ramdisk to allow rooting.", false},
	{FlashPart, "Rewrites the (boot) partition image", false},
	{InstallApps, "Install VOIP phone app, uninstall old Meraki phone apps", false},
	{StartPhone, "Starts the SSM service and the phone app", true},
	{Revive, "<--Install reviveMC74 apps --this is the principal objective--", false},
	{Version, "Find and record some software version info", false},
	{ResetBFF, "(manual step) Reset the 'Boot partition Fixed Flag'", false},
}

// Lookup finds an objective by its case sensitive name.
func Lookup(name string) (Objective, bool) {
	for _, o := range All {
		if string(o.Name) == name {
			return o, true
		}
	}

	return Objective{}, false
}

// State records what has been achieved so far.
type State struct {
	Mode             device.Mode
	Serial           string
	FilesChecked     bool
	RecoveryReplaced bool
	BackupBoot       bool
	FixBootPart      bool
	AppsInstalled    bool

	Errors []string
	// Needed names the help groups of missing programs.
	Needed []string
}

func (st *State) fail(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	st.Errors = append(st.Errors, err.Error())
	return err
}

// ErrUnknownObjective is returned for names not in All.
var ErrUnknownObjective = errors.New("unknown objective")

// Session runs objectives against one device.
type Session struct {
	Config *config.Config
	Bridge *device.Bridge
	Runner run.Runner
	Out    io.Writer
	// LookPath finds a local program; run.LookPath by default.
	LookPath func(program string) error

	// TargetMode is the mode requested by the adbMode objective.
	TargetMode device.Mode

	State State
	// target is the objective requested by the operator.
	target Name
}

// New returns a Session using the bridge's runner for local checks.
func New(cfg *config.Config, bridge *device.Bridge, out io.Writer) *Session {
	return &Session{
		Config:     cfg,
		Bridge:     bridge,
		Runner:     bridge.Runner,
		Out:        out,
		LookPath:   run.LookPath,
		TargetMode: device.ModeRecovery,
	}
}

func (s *Session) printf(format string, args ...any) {
	fmt.Fprintf(s.Out, format, args...)
}

func (s *Session) path(name string) string {
	return filepath.Join(s.Config.WorkDir, name)
}

func (s *Session) handler(name Name) func(context.Context) error {
	return map[Name]func(context.Context) error{
		CheckFiles:      s.checkFiles,
		ADBMode:         s.adbMode,
		ReplaceRecovery: s.replaceRecovery,
		BackupPart:      s.backupPart,
		FixPart:         s.fixPart,
		FlashPart:       s.flashPart,
		InstallApps:     s.installApps,
		StartPhone:      s.startPhone,
		Revive:          s.revive,
		Version:         s.version,
		ResetBFF:        s.resetBFF,
	}[name]
}

// List prints the visible objectives.
func List(out io.Writer) {
	fmt.Fprintln(out, "\nList of objectives (phases or operations needed for revival) Case sensitive:")
	tw := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	for _, o := range All {
		if !o.Hidden {
			fmt.Fprintf(tw, "  %s\t%s\n", o.Name, o.Desc)
		}
	}
	tw.Flush()
	fmt.Fprintln(out, "\n\nThe objectives are listed in the order they are normally performed.")
}

// Run achieves the named objective along with its prerequisites.
func (s *Session) Run(ctx context.Context, name string) error {
	obj, ok := Lookup(name)
	if !ok {
		List(s.Out)
		return fmt.Errorf("%w %q", ErrUnknownObjective, name)
	}
	if obj.Name == ListObjectives {
		List(s.Out)
		return nil
	}

	s.target = obj.Name
	logrus.Infof("reviveMC74 %s", obj.Name)

	if _, err := os.Stat(s.path(s.Config.FlagFile)); err != nil && obj.Name != CheckFiles {
		if err := s.checkFiles(ctx); err != nil {
			s.printNeeded()
			return err
		}
	}

	s.printf("  %s Function:\n", obj.Name)
	err := s.handler(obj.Name)(ctx)

	s.State.Mode = s.Bridge.Mode
	if s.State.Serial == "" {
		s.State.Serial = s.Bridge.Serial
	}
	logrus.WithFields(logrus.Fields{
		"mode":             s.State.Mode,
		"serial":           s.State.Serial,
		"recoveryReplaced": s.State.RecoveryReplaced,
		"backupBoot":       s.State.BackupBoot,
		"fixBootPart":      s.State.FixBootPart,
		"errors":           len(s.State.Errors),
	}).Debug("objective state")

	if err != nil {
		s.printf("%s failed:\n", obj.Name)
		for _, msg := range s.State.Errors {
			s.printf("  --%s\n", msg)
		}
		return err
	}

	s.printf("Achieved objective '%s'\n", obj.Name)
	return nil
}

var neededHelp = map[string]string{
	"adb": `ADB/FASTBOOT programs needed.  See:
  https://www.xda-developers.com/install-adb-windows-macos-linux/
  for instructions.  If you have adb and fastboot, make sure they are in the 'path'.`,
}

func (s *Session) printNeeded() {
	s.printf("Not all needed programs are in the 'PATH' or not all files are present in %s:\n",
		filepath.Join(s.Config.WorkDir, s.Config.InstallDir))
	for _, msg := range s.State.Errors {
		s.printf("  --%s\n", msg)
	}

	seen := map[string]bool{}
	for _, need := range s.State.Needed {
		if help, ok := neededHelp[need]; ok && !seen[need] {
			seen[need] = true
			s.printf("\n%s\n", help)
		}
	}
}
