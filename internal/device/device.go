// Package device drives the MC74 over adb and fastboot.
package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/sirupsen/logrus"
	"github.com/tgulacsi/wrap"

	"github.com/reviveMC74/reviveMC74/internal/run"
)

// Prompter shows instructions to the operator and waits for them.
type Prompter interface {
	Prompt(msg string)
}

// ConsolePrompter prompts on a terminal and waits for Enter.
type ConsolePrompter struct {
	In  io.Reader
	Out io.Writer

	// shared across prompts so piped input isn't dropped
	in *bufio.Reader
}

// Prompt implements Prompter.
func (p *ConsolePrompter) Prompt(msg string) {
	if p.in == nil {
		p.in = bufio.NewReader(p.In)
	}

	fmt.Fprintf(p.Out, "\n%s\n\n> ", wrap.String(msg, 72))
	_, _ = p.in.ReadString('\n')
}

// Bridge issues adb and fastboot commands for one device.
type Bridge struct {
	Runner   run.Runner
	Prompter Prompter
	Clock    clock.Clock

	PollAttempts int
	PollInterval time.Duration
	BlockPrefix  string
	CacheDir     string

	// Last observed mode and serial number
	Mode   Mode
	Serial string
}

// Config holds the Bridge settings.
type Config struct {
	PollAttempts int
	PollInterval time.Duration
	BlockPrefix  string
	CacheDir     string
}

// New returns a Bridge running commands with runner.
func New(runner run.Runner, prompter Prompter, cfg Config) *Bridge {
	return &Bridge{
		Runner:       runner,
		Prompter:     prompter,
		Clock:        clock.WallClock,
		PollAttempts: cfg.PollAttempts,
		PollInterval: cfg.PollInterval,
		BlockPrefix:  cfg.BlockPrefix,
		CacheDir:     cfg.CacheDir,
	}
}

// CommandError is a device command that exited non-zero.
type CommandError struct {
	Argv   []string
	Result run.Result
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(string(e.Result.Stderr))
	if msg == "" {
		msg = strings.TrimSpace(e.Result.Output())
	}

	return fmt.Sprintf("%s exited with %d: %s", run.Quote(e.Argv), e.Result.ExitCode, msg)
}

func (b *Bridge) exec(ctx context.Context, argv ...string) (run.Result, error) {
	logrus.Debugf("Executing: %s", run.Quote(argv))
	return b.Runner.Run(ctx, argv, nil)
}

// must runs argv and turns a non-zero exit into a CommandError.
func (b *Bridge) must(ctx context.Context, argv ...string) (run.Result, error) {
	res, err := b.exec(ctx, argv...)
	if err != nil {
		return res, err
	}
	if !res.OK() {
		return res, &CommandError{Argv: argv, Result: res}
	}

	return res, nil
}

// ADB runs an adb command.
func (b *Bridge) ADB(ctx context.Context, args ...string) (run.Result, error) {
	return b.exec(ctx, append([]string{"adb"}, args...)...)
}

// Shell runs a command in the device shell.
func (b *Bridge) Shell(ctx context.Context, args ...string) (run.Result, error) {
	return b.ADB(ctx, append([]string{"shell"}, args...)...)
}

// findLine returns the first line of out containing substr.
func findLine(out, substr string) (string, bool) {
	for _, ln := range strings.Split(out, "\n") {
		if strings.Contains(ln, substr) {
			return strings.TrimRight(ln, "\r"), true
		}
	}

	return "", false
}

func serialOf(line string) string {
	return strings.SplitN(line, "\t", 2)[0]
}

// Detect works out which mode the device is in.
func (b *Bridge) Detect(ctx context.Context) (Mode, error) {
	res, err := b.ADB(ctx, "devices")
	if err != nil {
		return ModeUnknown, err
	}

	out := res.Output()
	if ln, ok := findLine(out, ModeNormal.devicesTag()); ok {
		b.Mode, b.Serial = ModeNormal, serialOf(ln)
		return b.Mode, nil
	}
	if ln, ok := findLine(out, ModeRecovery.devicesTag()); ok {
		b.Mode, b.Serial = ModeRecovery, serialOf(ln)
		return b.Mode, nil
	}

	res, err = b.exec(ctx, "fastboot", "devices")
	if err != nil {
		return ModeUnknown, err
	}
	if ln, ok := findLine(res.Output(), ModeFastboot.devicesTag()); ok {
		b.Mode, b.Serial = ModeFastboot, serialOf(ln)
		return b.Mode, nil
	}

	b.Mode = ModeUnknown
	return b.Mode, nil
}

const recoveryInstructions = `Prepare to reboot the MC74. Remove the USB cable from the side of the MC74 (if connected). Remove the Ethernet/POE cable from the back. Reconnect the USB cable to the right side (not back) connector and the other end to this computer.

After you press Enter: apply power with the POE cable on the WAN port (the one closest to the round socket), quickly press and hold mute before the backlight flashes, and keep it down until the cisco/meraki logo appears and the vibrator grunts. Then release mute.

Press Enter when ready to power up the MC74.`

var errNotYet = errors.New("device not seen yet")

// SwitchMode moves the device into target and waits for it to appear.
// ModeRecovery is satisfied by either adb mode.
func (b *Bridge) SwitchMode(ctx context.Context, target Mode) error {
	cur, err := b.Detect(ctx)
	if err != nil {
		return err
	}

	logrus.Infof("--adbMode, currentMode: %s, targetMode: %s", cur, target)

	switch {
	case cur == target, target == ModeRecovery && cur.HasADB():
		return nil

	case cur.HasADB() && target == ModeFastboot:
		logrus.Info("--Changing from adb mode to fastboot mode")
		if _, err := b.must(ctx, "adb", "reboot", "bootloader"); err != nil {
			return err
		}

	case target == ModeRecovery:
		b.Prompter.Prompt(recoveryInstructions)

	case target == ModeNormal && cur == ModeFastboot:
		logrus.Infof("--Changing from %s mode to normal device mode", cur)
		if _, err := b.must(ctx, "fastboot", "reboot"); err != nil {
			return err
		}

	case target == ModeNormal && cur == ModeRecovery:
		// adb reboot hangs in clockwork recovery; force it through sysrq.
		logrus.Infof("--Changing from %s mode to normal device mode", cur)
		if _, err := b.Shell(ctx, "echo b >/proc/sysrq-trigger"); err != nil {
			return err
		}

	default:
		return fmt.Errorf("don't know how to change from %s mode to %s mode", cur, target)
	}

	return b.WaitFor(ctx, target)
}

// WaitFor polls the devices list until the device shows up in target.
func (b *Bridge) WaitFor(ctx context.Context, target Mode) error {
	tool := target.tool()
	logrus.Infof("--loop running '%s devices' until we see a device", tool)

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			res, err := b.exec(ctx, tool, "devices")
			if err != nil {
				return err
			}
			ln, ok := findLine(res.Output(), target.devicesTag())
			if !ok {
				return errNotYet
			}

			b.Mode, b.Serial = target, serialOf(ln)
			return nil
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errNotYet)
		},
		NotifyFunc: func(lastError error, attempt int) {
			logrus.Infof("--Waiting for reboot %d/%d", attempt, b.PollAttempts)
		},
		Attempts: b.PollAttempts,
		Delay:    b.PollInterval,
		Clock:    b.Clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		b.Mode = ModeUnknown
		if retry.IsAttemptsExceeded(err) {
			return fmt.Errorf("device did not appear in %s mode after %d attempts", target, b.PollAttempts)
		}
		return err
	}

	logrus.Infof("found device with serial number: %s", b.Serial)
	return nil
}

// DevicePath is the block device of a partition.
func (b *Bridge) DevicePath(part string) string {
	return b.BlockPrefix + part
}

func (b *Bridge) cachePath(local string) string {
	return path.Join(b.CacheDir, filepath.Base(local))
}

// Backup copies a partition to the local file.
func (b *Bridge) Backup(ctx context.Context, part, local string) error {
	remote := b.cachePath(local)
	logrus.Infof("backupPart %s partition: %s", part, b.DevicePath(part))

	if _, err := b.must(ctx, "adb", "shell", "dd", "if="+b.DevicePath(part), "of="+remote, "ibs=4096"); err != nil {
		return err
	}
	if _, err := b.must(ctx, "adb", "pull", remote, local); err != nil {
		return err
	}
	if _, err := b.Shell(ctx, "rm", remote); err != nil {
		return err
	}

	if _, err := os.Stat(local); err != nil {
		return fmt.Errorf("can't find %s after pulling it: %w", local, err)
	}

	return nil
}

// Flash writes the local image to each of parts, in order.
func (b *Bridge) Flash(ctx context.Context, local string, parts ...string) error {
	if len(parts) == 0 {
		return errors.New("no partition to flash")
	}

	remote := b.cachePath(local)
	logrus.Infof("flashPart, writing %s to %s", local, strings.Join(parts, ", "))

	if _, err := b.must(ctx, "adb", "push", local, remote); err != nil {
		return fmt.Errorf("writing %s on device failed: %w", local, err)
	}

	for _, part := range parts {
		_, err := b.must(ctx, "adb", "shell", "dd", "if="+remote, "of="+b.DevicePath(part), "ibs=4096")
		if err != nil {
			return fmt.Errorf("copying %s on device to %s failed: %w", local, part, err)
		}
	}

	_, err := b.Shell(ctx, "rm", remote)
	return err
}

// FlashRecovery writes a recovery image with fastboot.
func (b *Bridge) FlashRecovery(ctx context.Context, img string) error {
	_, err := b.must(ctx, "fastboot", "flash", "recovery", img)
	return err
}

// RebootFastboot leaves fastboot mode.
func (b *Bridge) RebootFastboot(ctx context.Context) error {
	_, err := b.must(ctx, "fastboot", "reboot")
	return err
}

// Push copies a local file onto the device.
func (b *Bridge) Push(ctx context.Context, local, remote string) error {
	_, err := b.must(ctx, "adb", "push", local, remote)
	return err
}

// Pull copies a device file to the local path.
func (b *Bridge) Pull(ctx context.Context, remote, local string) error {
	_, err := b.must(ctx, "adb", "pull", remote, local)
	return err
}

// Install installs or upgrades an apk.
func (b *Bridge) Install(ctx context.Context, apk string) error {
	_, err := b.must(ctx, "adb", "install", "-t", "-r", apk)
	return err
}

// Uninstall removes a package. Missing packages are not an error.
func (b *Bridge) Uninstall(ctx context.Context, pkg string) error {
	_, err := b.ADB(ctx, "uninstall", pkg)
	return err
}

// Remove deletes a device file. Missing files are not an error.
func (b *Bridge) Remove(ctx context.Context, remote string) error {
	_, err := b.Shell(ctx, "rm", remote)
	return err
}

// RemoteFile is the `ls -l` view of a device file.
type RemoteFile struct {
	Date string
	Time string
	Size int64
}

// Stat reports the date and size of the first device file matching
// pattern whose listing line contains tag.
func (b *Bridge) Stat(ctx context.Context, pattern, tag string) (RemoteFile, bool, error) {
	if tag == "" {
		tag = pattern
	}

	res, err := b.Shell(ctx, "ls", "-l", pattern)
	if err != nil || !res.OK() {
		return RemoteFile{}, false, err
	}

	for _, ln := range Lines(res.Output()) {
		if !strings.Contains(ln, tag) {
			continue
		}
		if strings.Contains(ln, "No such") {
			return RemoteFile{}, false, nil
		}

		return parseLsLine(ln)
	}

	return RemoteFile{}, false, nil
}

func parseLsLine(ln string) (RemoteFile, bool, error) {
	f := strings.Fields(ln)
	if len(f) < 4 {
		return RemoteFile{}, false, fmt.Errorf("unexpected ls output %q", ln)
	}

	f = f[len(f)-4:]
	size, err := strconv.ParseInt(f[0], 10, 64)
	if err != nil {
		return RemoteFile{}, false, fmt.Errorf("unexpected ls size in %q: %w", ln, err)
	}

	return RemoteFile{Date: f[1], Time: f[2], Size: size}, true, nil
}

// Lines splits shell output, dropping blank lines, comments and the
// extra carriage returns adb appends.
func Lines(out string) []string {
	var lines []string
	for _, ln := range strings.Split(out, "\n") {
		ln = strings.TrimSpace(strings.TrimRight(ln, "\r"))
		if ln == "" || strings.HasPrefix(ln, "#") {
			continue
		}
		lines = append(lines, ln)
	}

	return lines
}

// Props reads /system/build.prop.
func (b *Bridge) Props(ctx context.Context) (map[string]string, error) {
	res, err := b.must(ctx, "adb", "shell", "cat", "/system/build.prop")
	if err != nil {
		return nil, err
	}

	return ParseProps(res.Output()), nil
}

// ParseProps parses name=value lines.
func ParseProps(out string) map[string]string {
	props := map[string]string{}
	for _, ln := range Lines(out) {
		name, value, ok := strings.Cut(ln, "=")
		if !ok {
			continue
		}
		props[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	return props
}

// BootEnvSerial reads the serial number from the u-boot-env partition,
// staging the copy at local.
func (b *Bridge) BootEnvSerial(ctx context.Context, local string) (string, error) {
	remote := path.Join(b.CacheDir, "uBootEnv")
	_, err := b.must(ctx, "adb", "shell", "dd", "if="+b.DevicePath("u-boot-env"), "of="+remote, "bs=640", "count=1")
	if err != nil {
		return "", err
	}
	if err := b.Pull(ctx, remote, local); err != nil {
		return "", err
	}
	_ = b.Remove(ctx, remote)
	defer os.Remove(local)

	env, err := os.ReadFile(local)
	if err != nil {
		return "", err
	}

	return ParseBootEnvSerial(env), nil
}

// ParseBootEnvSerial finds "sn=" in a raw u-boot environment block.
func ParseBootEnvSerial(env []byte) string {
	// The block starts with a 5 byte header.
	if len(env) > 5 {
		env = env[5:]
	}

	for _, kv := range strings.Split(strings.TrimRight(string(env), "\x00"), "\x00") {
		if sn, ok := strings.CutPrefix(kv, "sn="); ok && sn != "" {
			return sn
		}
	}

	return ""
}
