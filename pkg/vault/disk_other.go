//go:build !linux && !darwin && !windows

package vault

import "errors"

// CheckDiskSpace is not supported on this platform.
func (m *Manager) CheckDiskSpace() (*DiskSpaceInfo, error) {
	return nil, errors.New("vault: disk stats not supported on this platform")
}
