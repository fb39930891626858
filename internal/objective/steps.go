package objective

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	revive "github.com/reviveMC74/reviveMC74"
	"github.com/reviveMC74/reviveMC74/internal/device"
)

func (s *Session) checkFiles(ctx context.Context) error {
	cfg := s.Config
	ok := true

	for _, p := range cfg.Programs {
		argv := p.Check
		if len(argv) == 0 {
			argv = []string{p.Name}
		}
		err := s.LookPath(p.Name)
		if err == nil {
			_, err = s.Runner.Run(ctx, argv, nil)
		}
		if err != nil {
			s.State.fail("checkProgs: can't find '%s' program", p.Name)
			s.State.Needed = append(s.State.Needed, p.Need)
			ok = false
		}
	}

	files := []string{cfg.RecoveryImage}
	for _, f := range cfg.InstallFiles {
		files = append(files, f.Name)
	}
	for _, a := range cfg.InstallApps {
		files = append(files, a.File)
	}
	for _, name := range files {
		if _, err := os.Stat(cfg.InstallPath(name)); err != nil {
			s.State.fail("checkFiles: can't find file '%s'", name)
			ok = false
		}
	}

	if !ok {
		return fmt.Errorf("%w: needed programs or files are missing", revive.ErrFileMissing)
	}

	s.State.FilesChecked = true
	return os.WriteFile(s.path(cfg.FlagFile), []byte("ok"), 0o644)
}

// needADB switches to an adb mode unless already in one.
func (s *Session) needADB(ctx context.Context) error {
	if s.Bridge.Mode.HasADB() {
		return nil
	}

	return s.switchMode(ctx, device.ModeRecovery)
}

func (s *Session) switchMode(ctx context.Context, m device.Mode) error {
	err := s.Bridge.SwitchMode(ctx, m)
	s.State.Mode = s.Bridge.Mode
	if err != nil {
		return s.State.fail("adbMode: %v", err)
	}

	return nil
}

func (s *Session) adbMode(ctx context.Context) error {
	return s.switchMode(ctx, s.TargetMode)
}

const muteInstructions = `The recovery partition has been updated; the MC74 is going to reboot now.

Hold the 'mute' button down and press Enter on this computer. When the cisco/meraki logo appears and the vibrator grunts, release the 'mute' button. The ClockworkRecovery UI should appear on the display; you need not do anything there.`

func (s *Session) replaceRecovery(ctx context.Context) error {
	if err := s.needADB(ctx); err != nil {
		return err
	}

	res, err := s.Bridge.Shell(ctx, "grep", "secure", "default.prop")
	if err != nil {
		return s.State.fail("replaceRecovery: %v", err)
	}
	resp := string(res.Stdout) + string(res.Stderr)

	switch {
	case strings.Contains(resp, "ro.secure=0"):
		// Recovery already replaced and boot already fixed.
		s.State.FixBootPart = true
		if _, err := os.Stat(s.Config.ImageFile()); err == nil {
			s.State.BackupBoot = true
		}

	case strings.Contains(resp, "failed: No such file"):
		// Stock recovery has no shell.
		if err := s.switchMode(ctx, device.ModeFastboot); err != nil {
			return err
		}

		logrus.Infof("--replaceRecovery partition, writing %s", s.Config.RecoveryImage)
		if err := s.Bridge.FlashRecovery(ctx, s.Config.InstallPath(s.Config.RecoveryImage)); err != nil {
			return s.State.fail("replaceRecovery: %v", err)
		}

		s.Bridge.Prompter.Prompt(muteInstructions)
		logrus.Info("--Rebooting")
		if err := s.Bridge.RebootFastboot(ctx); err != nil {
			return s.State.fail("replaceRecovery: %v", err)
		}
		s.Bridge.Mode = device.ModeUnknown
		if err := s.Bridge.WaitFor(ctx, device.ModeRecovery); err != nil {
			return s.State.fail("replaceRecovery: %v", err)
		}
		s.State.Mode = s.Bridge.Mode
	}

	s.State.RecoveryReplaced = true
	return nil
}

func (s *Session) backupPart(ctx context.Context) error {
	if err := s.replaceRecovery(ctx); err != nil {
		return err
	}
	if s.State.BackupBoot && s.target != BackupPart {
		return nil
	}

	cfg := s.Config
	img := cfg.ImageFile()
	if err := s.Bridge.Backup(ctx, cfg.Partition, img); err != nil {
		return s.State.fail("backupPart: %v", err)
	}

	fi, err := os.Stat(img)
	if err != nil {
		return s.State.fail("backupPart: %v", err)
	}
	opts := cfg.Options()
	if err := revive.CheckSize(fi.Size(), opts.PartitionSize); err != nil {
		return s.State.fail("backupPart: %s", revive.Describe(err))
	}

	s.printf("  --unpack %s and unpack the ramdisk\n", img)
	if _, err := revive.Unpack(img, opts); err != nil {
		if cfg.IsBoot() {
			return s.State.fail("backupPart: %s", revive.Describe(err))
		}
		logrus.Warnf("%s is not a boot image: %s", img, revive.Describe(err))
	}

	// A derived image name is kept as the pristine copy.
	if cfg.Image == "" {
		orig := img + "Orig"
		if err := os.Remove(orig); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return s.State.fail("backupPart: %v", err)
		}
		if err := os.Rename(img, orig); err != nil {
			return s.State.fail("backupPart: %v", err)
		}
	}

	if cfg.IsBoot() {
		s.State.BackupBoot = true
		s.State.FixBootPart = false
	}

	return nil
}

func (s *Session) fixPart(ctx context.Context) error {
	if err := s.backupPart(ctx); err != nil {
		return err
	}

	cfg := s.Config
	if cfg.IsBoot() && s.State.FixBootPart && s.target != FixPart {
		s.printf("  --skipping fixPart for %s partition, already done\n", cfg.Partition)
		return nil
	}

	img := cfg.ImageFile()
	logrus.Infof("fixPart %s to make it rooted", img)

	if cfg.IsBoot() {
		l := revive.NewLayout(img)
		if err := revive.FixRamdisk(l.RamdiskDir(), revive.ReplNormal); err != nil {
			return s.State.fail("fixPart: %s", revive.Describe(err))
		}
	}

	out, err := revive.Pack(img, cfg.Options())
	if err != nil {
		return s.State.fail("fixPart: %s", revive.Describe(err))
	}
	if _, err := os.Stat(out); err != nil {
		return s.State.fail("fixPart: can't find file '%s' after packing", out)
	}

	return nil
}

func localFileDate(path string) (string, string, int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", "", 0, err
	}

	t := fi.ModTime()
	return t.Format(time.DateOnly), t.Format("15:04:05"), fi.Size(), nil
}

func (s *Session) flashPart(ctx context.Context) error {
	cfg := s.Config
	img := cfg.ImageFile()

	if s.target != FlashPart {
		if dt, tm, _, err := localFileDate(img); err == nil {
			s.printf("    %s timestamp: %s %s\n", img, dt, tm)
		}
	}

	if _, err := os.Stat(img); err != nil && cfg.IsBoot() {
		if err := s.fixPart(ctx); err != nil {
			return err
		}
	}
	fi, err := os.Stat(img)
	if err != nil {
		return s.State.fail("flashPart: %v", err)
	}
	if err := revive.CheckSize(fi.Size(), cfg.Options().PartitionSize); err != nil {
		return s.State.fail("flashPart: %s", revive.Describe(err))
	}

	if err := s.needADB(ctx); err != nil {
		return err
	}

	if err := s.Bridge.Flash(ctx, img, cfg.FlashTargets()...); err != nil {
		return s.State.fail("flashPart: %v", err)
	}

	if cfg.IsBoot() {
		s.State.FixBootPart = true
	}
	return nil
}

// needsInstall reports whether a local apk should replace the
// installed one.
func needsInstall(localDate string, localSize int64, installed device.RemoteFile, present bool) bool {
	if !present {
		return true
	}

	return localDate > installed.Date || localSize != installed.Size
}

func (s *Session) installApps(ctx context.Context) error {
	if err := s.switchMode(ctx, device.ModeNormal); err != nil {
		return err
	}

	cfg := s.Config
	logrus.Info("installApps, removing Meraki apps if not already done")
	for _, f := range cfg.RemoveFiles {
		if err := s.Bridge.Remove(ctx, f); err != nil {
			return s.State.fail("installApps: %v", err)
		}
	}
	for _, pkg := range cfg.Uninstall {
		if err := s.Bridge.Uninstall(ctx, pkg); err != nil {
			return s.State.fail("installApps: %v", err)
		}
	}

	for _, f := range cfg.InstallFiles {
		s.printf("--install file/program: %s\n", f.Name)
		dest := path.Join(f.Dest, f.Name)
		if err := s.Bridge.Push(ctx, cfg.InstallPath(f.Name), dest); err != nil {
			return s.State.fail("installApps: %v", err)
		}
		if f.Fixup != "" {
			argv := append(strings.Fields(f.Fixup), dest)
			if _, err := s.Bridge.Shell(ctx, argv...); err != nil {
				return s.State.fail("installApps: %v", err)
			}
		}
	}

	for _, app := range cfg.InstallApps {
		local := cfg.InstallPath(app.File)
		dt, tm, size, err := localFileDate(local)
		if err != nil {
			return s.State.fail("installApps: %v", err)
		}

		installed, present, err := s.Bridge.Stat(ctx, "/data/app/"+app.Package+"*", app.Package)
		if err != nil {
			return s.State.fail("installApps: %v", err)
		}
		if present {
			logrus.Infof("    installed copy of %s: %s %s  size: %d", app.Name, installed.Date, installed.Time, installed.Size)
		} else {
			logrus.Infof("    no %s present", app.Name)
		}

		if !needsInstall(dt, size, installed, present) {
			logrus.Infof("    installed version of %s is good, skipping install (new %s %s)", app.Name, dt, units.HumanSize(float64(size)))
			continue
		}

		logrus.Infof("--installing app: %s (%s %s %d)", app.Name, dt, tm, size)
		if err := s.Bridge.Install(ctx, local); err != nil {
			return s.State.fail("installApps: %v", err)
		}
	}

	// mkshrc reads the prompt from this file.
	_ = s.Bridge.Remove(ctx, "/sdcard/SHELL_PROMPT")
	if _, err := s.Bridge.Shell(ctx, "touch", "/sdcard/SHELL_PROMPT"); err != nil {
		return s.State.fail("installApps: %v", err)
	}

	s.State.AppsInstalled = true
	return nil
}

func (s *Session) startPhone(ctx context.Context) error {
	logrus.Info("startPhone")
	for _, argv := range s.Config.StartCommands {
		if _, err := s.Bridge.Shell(ctx, argv...); err != nil {
			return s.State.fail("startPhone: %v", err)
		}
	}

	return nil
}

func (s *Session) revive(ctx context.Context) error {
	for _, step := range []struct {
		name Name
		fn   func(context.Context) error
	}{
		{FlashPart, s.flashPart},
		{InstallApps, s.installApps},
		{StartPhone, s.startPhone},
	} {
		if err := step.fn(ctx); err != nil {
			s.printf("%s failed\n", step.name)
			return err
		}
	}

	return nil
}

// versionFiles are listed with ls -l in version.info.
var versionFiles = []string{
	"/init",
	"/system/build.prop",
	"/system/framework/am.jar",
	"/cache/downloads/update.tar.gz",
	"/cache/downloads/images/boot.img",
	"/cache/downloads/images/system.img",
}

var versionProps = []string{"ro.build.id", "ro.build.version.release", "ro.build.date"}

func (s *Session) version(ctx context.Context) error {
	logrus.Info("version, gathering information about the software version on the MC74")
	if err := s.needADB(ctx); err != nil {
		s.printf("Sorry, the MC74 needs to have ADB working in recovery or normal device mode to work.\n")
		return err
	}

	b := s.Bridge
	if b.Mode == device.ModeRecovery {
		for _, mnt := range [][2]string{{"system", "/system"}, {"userdata", "/data"}} {
			if _, err := b.Shell(ctx, "mount", b.DevicePath(mnt[0]), mnt[1]); err != nil {
				return s.State.fail("version: %v", err)
			}
		}
	}

	var info []string
	sn, err := b.BootEnvSerial(ctx, s.path("uBootEnv.tmp"))
	if err != nil {
		logrus.Warnf("can't read u-boot-env: %v", err)
	} else if sn != "" {
		info = append(info, "devSN:\t"+sn)
		s.State.Serial = sn
	}

	if props, err := b.Props(ctx); err == nil {
		for _, name := range versionProps {
			if v, ok := props[name]; ok {
				info = append(info, name+":\t"+v)
			}
		}
	} else {
		logrus.Warnf("can't read build.prop: %v", err)
	}

	for _, f := range versionFiles {
		res, err := b.Shell(ctx, "ls", "-l", f)
		if err != nil {
			return s.State.fail("version: %v", err)
		}
		if !res.OK() {
			continue
		}
		for _, ln := range device.Lines(res.Output()) {
			// bionic tzdata warnings
			if strings.HasPrefix(ln, "__") {
				continue
			}
			info = append(info, f+":\t"+ln)
		}
	}

	if res, err := b.Shell(ctx, "cat", "/proc/version"); err == nil && res.OK() {
		info = append(info, "/procVersion:\t"+strings.TrimSpace(res.Output()))
	} else {
		info = append(info, "/procVersion:\t(unknown, in recovery mode)")
	}

	var sb strings.Builder
	for _, ln := range info {
		sb.WriteString("  " + ln + "\n")
	}
	s.printf("\nVersion Info:\n%s", sb.String())

	return os.WriteFile(s.path("version.info"), []byte(sb.String()), 0o644)
}

func (s *Session) resetBFF(context.Context) error {
	flag := s.path(s.Config.FlagFile)
	err := os.Remove(flag)
	switch {
	case err == nil:
		s.printf("The %s file was removed, next time you run reviveMC74 it will recheck that you have all the needed files and programs.\n",
			filepath.Base(flag))
	case errors.Is(err, fs.ErrNotExist):
		s.printf("(There was no '%s' file.)\n", filepath.Base(flag))
	default:
		return err
	}

	return nil
}
