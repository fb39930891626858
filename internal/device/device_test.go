package device

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/reviveMC74/reviveMC74/internal/run"
)

// fakeRunner answers commands from a table keyed by the command line
// and records every call.
type fakeRunner struct {
	replies map[string][]run.Result
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, argv []string, _ []byte) (run.Result, error) {
	key := strings.Join(argv, " ")
	f.calls = append(f.calls, key)

	rs := f.replies[key]
	if len(rs) == 0 {
		return run.Result{}, nil
	}
	r := rs[0]
	if len(rs) > 1 {
		f.replies[key] = rs[1:]
	}

	return r, nil
}

func out(s string) run.Result {
	return run.Result{Stdout: []byte(s)}
}

type fakePrompter struct{ shown []string }

func (p *fakePrompter) Prompt(msg string) { p.shown = append(p.shown, msg) }

func newBridge(f *fakeRunner) (*Bridge, *fakePrompter) {
	p := &fakePrompter{}
	b := New(f, p, Config{
		PollAttempts: 3,
		PollInterval: time.Millisecond,
		BlockPrefix:  "/dev/block/platform/sdhci.1/by-name/",
		CacheDir:     "/cache",
	})

	return b, p
}

const listHeader = "List of devices attached\n"

func TestDetect(t *testing.T) {
	for _, tc := range []struct {
		name     string
		adb      string
		fastboot string
		want     Mode
		serial   string
	}{
		{"normal", listHeader + "Q2XX-1\tdevice\n", "", ModeNormal, "Q2XX-1"},
		{"recovery", listHeader + "Q2XX-2\trecovery\n", "", ModeRecovery, "Q2XX-2"},
		{"fastboot", listHeader, "Q2XX-3\tfastboot\n", ModeFastboot, "Q2XX-3"},
		{"none", listHeader, "", ModeUnknown, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeRunner{replies: map[string][]run.Result{
				"adb devices":      {out(tc.adb)},
				"fastboot devices": {out(tc.fastboot)},
			}}
			b, _ := newBridge(f)

			m, err := b.Detect(context.Background())
			assert.NilError(t, err)
			assert.Equal(t, m, tc.want)
			assert.Equal(t, b.Serial, tc.serial)
		})
	}
}

func TestSwitchModeAlreadyThere(t *testing.T) {
	f := &fakeRunner{replies: map[string][]run.Result{
		"adb devices": {out(listHeader + "S1\tdevice\n")},
	}}
	b, p := newBridge(f)

	assert.NilError(t, b.SwitchMode(context.Background(), ModeRecovery))
	assert.Check(t, is.Len(p.shown, 0))
	assert.DeepEqual(t, f.calls, []string{"adb devices"})
}

func TestSwitchModeToFastboot(t *testing.T) {
	f := &fakeRunner{replies: map[string][]run.Result{
		"adb devices":      {out(listHeader + "S1\trecovery\n")},
		"fastboot devices": {out(""), out("S1\tfastboot\n")},
	}}
	b, _ := newBridge(f)

	assert.NilError(t, b.SwitchMode(context.Background(), ModeFastboot))
	assert.Equal(t, b.Mode, ModeFastboot)
	assert.Check(t, is.Contains(f.calls, "adb reboot bootloader"))
}

func TestSwitchModePromptsForRecovery(t *testing.T) {
	f := &fakeRunner{replies: map[string][]run.Result{
		"adb devices": {out(listHeader), out(listHeader), out(listHeader + "S9\trecovery\n")},
	}}
	b, p := newBridge(f)

	assert.NilError(t, b.SwitchMode(context.Background(), ModeRecovery))
	assert.Check(t, is.Len(p.shown, 1))
	assert.Equal(t, b.Serial, "S9")
}

func TestWaitForGivesUp(t *testing.T) {
	f := &fakeRunner{replies: map[string][]run.Result{}}
	b, _ := newBridge(f)
	b.Mode = ModeRecovery

	err := b.WaitFor(context.Background(), ModeNormal)
	assert.ErrorContains(t, err, "after 3 attempts")
	assert.Equal(t, b.Mode, ModeUnknown)
	assert.Equal(t, len(f.calls), 3)
}

func TestSwitchModeUnknownToNormal(t *testing.T) {
	f := &fakeRunner{replies: map[string][]run.Result{}}
	b, _ := newBridge(f)

	err := b.SwitchMode(context.Background(), ModeNormal)
	assert.ErrorContains(t, err, "don't know how")
}

func TestFlash(t *testing.T) {
	f := &fakeRunner{replies: map[string][]run.Result{}}
	b, _ := newBridge(f)

	assert.NilError(t, b.Flash(context.Background(), "work/rmcBoot.img", "boot", "boot2"))
	assert.DeepEqual(t, f.calls, []string{
		"adb push work/rmcBoot.img /cache/rmcBoot.img",
		"adb shell dd if=/cache/rmcBoot.img of=/dev/block/platform/sdhci.1/by-name/boot ibs=4096",
		"adb shell dd if=/cache/rmcBoot.img of=/dev/block/platform/sdhci.1/by-name/boot2 ibs=4096",
		"adb shell rm /cache/rmcBoot.img",
	})
}

func TestFlashStopsOnFailure(t *testing.T) {
	f := &fakeRunner{replies: map[string][]run.Result{
		"adb shell dd if=/cache/b.img of=/dev/block/platform/sdhci.1/by-name/boot ibs=4096": {
			{ExitCode: 1, Stderr: []byte("No space left")},
		},
	}}
	b, _ := newBridge(f)

	err := b.Flash(context.Background(), "b.img", "boot", "boot2")
	assert.ErrorContains(t, err, "No space left")
	assert.Equal(t, len(f.calls), 2)
}

func TestBackup(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "rmcBoot.img")
	f := &fakeRunner{replies: map[string][]run.Result{}}
	b, _ := newBridge(f)

	err := b.Backup(context.Background(), "boot", local)
	assert.ErrorContains(t, err, "can't find")

	assert.NilError(t, os.WriteFile(local, []byte("x"), 0o644))
	assert.NilError(t, b.Backup(context.Background(), "boot", local))
	assert.Equal(t, f.calls[0], "adb shell dd if=/dev/block/platform/sdhci.1/by-name/boot of=/cache/rmcBoot.img ibs=4096")
	assert.Equal(t, f.calls[1], "adb pull /cache/rmcBoot.img "+local)
}

func TestStat(t *testing.T) {
	f := &fakeRunner{replies: map[string][]run.Result{
		"adb shell ls -l /system/app/*.apk": {out(
			"-rw-r--r-- root     root      1234567 2021-03-04 05:06 Settings.apk\r\n" +
				"-rw-r--r-- root     root        42 2020-01-01 00:00 Other.apk\r\n")},
		"adb shell ls -l /data/missing": {out("/data/missing: No such file or directory\r\n")},
	}}
	b, _ := newBridge(f)

	rf, ok, err := b.Stat(context.Background(), "/system/app/*.apk", "Settings.apk")
	assert.NilError(t, err)
	assert.Assert(t, ok)
	assert.DeepEqual(t, rf, RemoteFile{Date: "2021-03-04", Time: "05:06", Size: 1234567})

	_, ok, err = b.Stat(context.Background(), "/data/missing", "")
	assert.NilError(t, err)
	assert.Assert(t, !ok)
}

func TestParseProps(t *testing.T) {
	props := ParseProps("# comment\r\nro.build.id=JDQ39\r\n\r\nro.product.model = MC74\r\nbogus\r\n")
	assert.DeepEqual(t, props, map[string]string{
		"ro.build.id":      "JDQ39",
		"ro.product.model": "MC74",
	})
}

func TestParseBootEnvSerial(t *testing.T) {
	env := append([]byte("\x01\x02\x03\x04\x05bootdelay=1\x00sn=Q2XX-ABCD-1234\x00ethaddr=00:18\x00"), make([]byte, 32)...)
	assert.Equal(t, ParseBootEnvSerial(env), "Q2XX-ABCD-1234")
	assert.Equal(t, ParseBootEnvSerial([]byte("\x00\x00\x00\x00\x00a=b\x00")), "")
}

func TestParseMode(t *testing.T) {
	m, ok := ParseMode("adb")
	assert.Assert(t, ok)
	assert.Equal(t, m, ModeRecovery)

	m, ok = ParseMode("fastboot")
	assert.Assert(t, ok)
	assert.Equal(t, m, ModeFastboot)

	_, ok = ParseMode("unknown")
	assert.Assert(t, !ok)
	assert.Equal(t, Mode(42).String(), "unknown")
}

func TestConsolePrompterKeepsPipedInput(t *testing.T) {
	var out strings.Builder
	p := &ConsolePrompter{In: strings.NewReader("\n\nrest\n"), Out: &out}

	p.Prompt("Hold the power button.")
	p.Prompt("Release it.")

	rest, err := p.in.ReadString('\n')
	assert.NilError(t, err)
	assert.Equal(t, rest, "rest\n")
	assert.Check(t, is.Contains(out.String(), "Release it."))
}
