package objective

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	revive "github.com/reviveMC74/reviveMC74"
	"github.com/reviveMC74/reviveMC74/internal/config"
	"github.com/reviveMC74/reviveMC74/internal/device"
	"github.com/reviveMC74/reviveMC74/internal/run"
)

// fakeRunner answers commands keyed by their command line. Hooks run
// before the reply, e.g. to materialize a pulled file.
type fakeRunner struct {
	replies map[string]run.Result
	hooks   map[string]func()
	missing map[string]bool
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, argv []string, _ []byte) (run.Result, error) {
	if f.missing[argv[0]] {
		return run.Result{}, errors.New("executable file not found in $PATH")
	}

	key := strings.Join(argv, " ")
	f.calls = append(f.calls, key)
	if h := f.hooks[key]; h != nil {
		h()
	}

	return f.replies[key], nil
}

type noPrompt struct{}

func (noPrompt) Prompt(string) {}

func newSession(t *testing.T, f *fakeRunner) (*Session, *bytes.Buffer) {
	t.Helper()

	cfg := config.Default()
	cfg.WorkDir = t.TempDir()
	cfg.PollAttempts = 2
	cfg.PollInterval = time.Millisecond

	b := device.New(f, noPrompt{}, device.Config{
		PollAttempts: cfg.PollAttempts,
		PollInterval: cfg.PollInterval,
		BlockPrefix:  cfg.BlockPrefix,
		CacheDir:     cfg.CacheDir,
	})

	var out bytes.Buffer
	s := New(cfg, b, &out)
	s.LookPath = func(program string) error {
		if f.missing[program] {
			return errors.New("executable file not found in $PATH")
		}
		return nil
	}
	return s, &out
}

func writeFlag(t *testing.T, s *Session) {
	t.Helper()
	assert.NilError(t, os.WriteFile(s.path(s.Config.FlagFile), []byte("ok"), 0o644))
}

func writeInstallFiles(t *testing.T, cfg *config.Config) {
	t.Helper()

	assert.NilError(t, os.MkdirAll(filepath.Join(cfg.WorkDir, cfg.InstallDir), 0o755))
	names := []string{cfg.RecoveryImage}
	for _, f := range cfg.InstallFiles {
		names = append(names, f.Name)
	}
	for _, a := range cfg.InstallApps {
		names = append(names, a.File)
	}
	for _, n := range names {
		assert.NilError(t, os.WriteFile(cfg.InstallPath(n), []byte(n), 0o644))
	}
}

func TestList(t *testing.T) {
	var out bytes.Buffer
	List(&out)

	var names []string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "  ") {
			names = append(names, strings.Fields(line)[0])
		}
	}
	assert.Check(t, is.Contains(names, "listObjectives"))
	assert.Check(t, is.Contains(names, "revive"))
	assert.Check(t, !is.Contains(names, "startPhone")().Success())
	assert.Check(t, !is.Contains(names, "manual")().Success())
	assert.Equal(t, len(names), len(All)-1)
}

func TestRunUnknownObjective(t *testing.T) {
	s, out := newSession(t, &fakeRunner{})

	err := s.Run(context.Background(), "Revive")
	assert.Assert(t, errors.Is(err, ErrUnknownObjective))
	assert.Check(t, is.Contains(out.String(), "List of objectives"))
}

func TestCheckFilesMissing(t *testing.T) {
	f := &fakeRunner{missing: map[string]bool{"fastboot": true}}
	s, out := newSession(t, f)

	err := s.Run(context.Background(), string(StartPhone))
	assert.Assert(t, errors.Is(err, revive.ErrFileMissing))
	assert.Check(t, is.Contains(out.String(), "can't find 'fastboot' program"))
	assert.Check(t, is.Contains(out.String(), "can't find file 'lights'"))
	assert.Check(t, is.Contains(out.String(), "ADB/FASTBOOT programs needed"))

	_, err = os.Stat(s.path(s.Config.FlagFile))
	assert.Assert(t, os.IsNotExist(err))
}

func TestCheckFilesThenResetBFF(t *testing.T) {
	s, out := newSession(t, &fakeRunner{})
	writeInstallFiles(t, s.Config)

	assert.NilError(t, s.Run(context.Background(), string(ResetBFF)))
	assert.Check(t, s.State.FilesChecked)
	assert.Check(t, is.Contains(out.String(), "was removed"))

	_, err := os.Stat(s.path(s.Config.FlagFile))
	assert.Assert(t, os.IsNotExist(err))
}

func TestStartPhone(t *testing.T) {
	f := &fakeRunner{}
	s, out := newSession(t, f)
	writeFlag(t, s)

	assert.NilError(t, s.Run(context.Background(), string(StartPhone)))
	assert.DeepEqual(t, f.calls, []string{
		"adb shell am startservice ribo.ssm/.SSMservice",
		"adb shell am start revive.MC74/org.linphone.dialer.DialerActivity",
		"adb shell am force-stop com.meraki.droidnode",
		"adb shell am force-stop com.meraki.dialer2",
		"adb shell am force-stop com.meraki.dialer2:pjsip",
	})
	assert.Check(t, is.Contains(out.String(), "Achieved objective 'startPhone'"))
}

func TestNeedsInstall(t *testing.T) {
	installed := device.RemoteFile{Date: "2021-03-04", Time: "05:06", Size: 100}

	assert.Check(t, needsInstall("2021-03-04", 100, installed, false))
	assert.Check(t, !needsInstall("2021-03-04", 100, installed, true))
	assert.Check(t, !needsInstall("2020-01-01", 100, installed, true))
	assert.Check(t, needsInstall("2021-03-05", 100, installed, true))
	assert.Check(t, needsInstall("2021-03-04", 101, installed, true))
}

func TestInstallAppsSkipsCurrentApk(t *testing.T) {
	f := &fakeRunner{replies: map[string]run.Result{
		"adb devices": {Stdout: []byte("List of devices attached\nS1\tdevice\n")},
	}}
	s, _ := newSession(t, f)
	writeInstallFiles(t, s.Config)
	s.Config.InstallApps = s.Config.InstallApps[:1]
	app := s.Config.InstallApps[0]

	// The local apk is app.File bytes long and dated today.
	today := time.Now().Format(time.DateOnly)
	ls := fmt.Sprintf("-rw-r--r-- system   system   %d %s 00:00 %s-1.apk\r\n", len(app.File), today, app.Package)
	f.replies["adb shell ls -l /data/app/"+app.Package+"*"] = run.Result{Stdout: []byte(ls)}

	assert.NilError(t, s.installApps(context.Background()))
	assert.Check(t, s.State.AppsInstalled)
	for _, c := range f.calls {
		assert.Check(t, !strings.HasPrefix(c, "adb install"), c)
	}
	assert.Check(t, is.Contains(f.calls, "adb push "+s.Config.InstallPath("lights")+" /system/bin/lights"))
	assert.Check(t, is.Contains(f.calls, "adb shell chmod 755 /system/bin/lights"))
	assert.Check(t, is.Contains(f.calls, "adb uninstall com.meraki.dialer2"))
}

func TestInstallAppsInstallsMissingApk(t *testing.T) {
	f := &fakeRunner{replies: map[string]run.Result{
		"adb devices": {Stdout: []byte("List of devices attached\nS1\tdevice\n")},
	}}
	s, _ := newSession(t, f)
	writeInstallFiles(t, s.Config)

	assert.NilError(t, s.installApps(context.Background()))
	for _, a := range s.Config.InstallApps {
		assert.Check(t, is.Contains(f.calls, "adb install -t -r "+s.Config.InstallPath(a.File)))
	}
}

