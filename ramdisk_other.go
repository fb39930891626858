//go:build !linux && !darwin

package revivemc74

import "time"

func lchtimes(string, time.Time) error {
	return nil
}
