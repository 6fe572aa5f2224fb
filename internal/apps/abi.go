package apps

import "runtime"

// ABI is a hardware application binary interface packages are built for.
type ABI string

const (
	ABIArm64  ABI = "arm64-v8a"
	ABIArm    ABI = "armeabi-v7a"
	ABIX86    ABI = "x86"
	ABIX86_64 ABI = "x86_64"
)

// DeviceABIs returns the ABIs the host can run, preferred first. An
// architecture without a known package ABI is reported under its GOARCH
// name, so apps configured with that name still match.
func DeviceABIs() []ABI {
	return abisFor(runtime.GOARCH)
}

func abisFor(goarch string) []ABI {
	switch goarch {
	case "arm64":
		return []ABI{ABIArm64, ABIArm}
	case "arm":
		return []ABI{ABIArm}
	case "amd64":
		return []ABI{ABIX86_64, ABIX86}
	case "386":
		return []ABI{ABIX86}
	}
	return []ABI{ABI(goarch)}
}

// SupportsOneOf reports whether any of required is in device.
func SupportsOneOf(device, required []ABI) bool {
	for _, r := range required {
		for _, d := range device {
			if r == d {
				return true
			}
		}
	}
	return false
}
