package rules

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Hardcoded returns the built-in safety rules that are always enforced
// regardless of configuration or --allow. They block permanently
// catastrophic operations.
func Hardcoded() []CheckFunc {
	return []CheckFunc{
		checkRmCatastrophic,
		checkRawDeviceWrite,
		checkMkfs,
	}
}

// checkRmCatastrophic blocks recursive removal of root, home, or current directory.
func checkRmCatastrophic(program string, args []string) error {
	if program != "rm" {
		return nil
	}
	if !hasAnyFlag(args, "-r", "-R", "--recursive") {
		return nil
	}
	for _, arg := range args {
		if arg == "" || arg[0] == '-' {
			continue
		}
		cleaned := filepath.Clean(arg)
		if cleaned == "/" || cleaned == "." || cleaned == ".." || arg == "~" || strings.HasPrefix(arg, "~/") {
			return fmt.Errorf("refusing to recursively remove %q. This operation is permanently blocked", arg)
		}
	}
	return nil
}

// rawDevicePrefixes name whole-disk block devices.
var rawDevicePrefixes = []string{"/dev/sd", "/dev/hd", "/dev/vd", "/dev/xvd", "/dev/nvme", "/dev/mmcblk", "/dev/disk"}

func isRawDevice(path string) bool {
	path = filepath.Clean(path)
	for _, p := range rawDevicePrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// checkRawDeviceWrite blocks dd and tee writing straight onto a disk device.
func checkRawDeviceWrite(program string, args []string) error {
	switch program {
	case "dd":
		for _, arg := range args {
			if target, ok := strings.CutPrefix(arg, "of="); ok && isRawDevice(target) {
				return fmt.Errorf("refusing to write to raw device %q. This operation is permanently blocked", target)
			}
		}
	case "tee":
		for _, arg := range args {
			if arg != "" && arg[0] != '-' && isRawDevice(arg) {
				return fmt.Errorf("refusing to write to raw device %q. This operation is permanently blocked", arg)
			}
		}
	}
	return nil
}

// checkMkfs blocks filesystem creation (mkfs, mkfs.ext4, ...).
func checkMkfs(program string, args []string) error {
	if program == "mkfs" || strings.HasPrefix(program, "mkfs.") {
		return fmt.Errorf("refusing to run %s. This operation is permanently blocked", program)
	}
	return nil
}
