package device

// Mode is the connection state of the device.
type Mode int

const (
	ModeUnknown Mode = iota
	// ModeRecovery is adb access served by the recovery image.
	ModeRecovery
	// ModeNormal is adb access in the booted system.
	ModeNormal
	ModeFastboot
)

var modeNames = [...]string{
	ModeUnknown:  "unknown",
	ModeRecovery: "recovery",
	ModeNormal:   "normal",
	ModeFastboot: "fastboot",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return modeNames[ModeUnknown]
	}

	return modeNames[m]
}

// HasADB reports whether adb commands work in this mode.
func (m Mode) HasADB() bool {
	return m == ModeRecovery || m == ModeNormal
}

// ParseMode accepts a mode name; "adb" is an alias of recovery.
func ParseMode(s string) (Mode, bool) {
	if s == "adb" {
		return ModeRecovery, true
	}
	for i, n := range modeNames {
		if n == s && Mode(i) != ModeUnknown {
			return Mode(i), true
		}
	}

	return ModeUnknown, false
}

// devicesTag is the state column of `adb devices`/`fastboot devices`
// for a device in mode m.
func (m Mode) devicesTag() string {
	switch m {
	case ModeRecovery:
		return "\trecovery"
	case ModeNormal:
		return "\tdevice"
	case ModeFastboot:
		return "\tfastboot"
	}

	return ""
}

func (m Mode) tool() string {
	if m == ModeFastboot {
		return "fastboot"
	}

	return "adb"
}
