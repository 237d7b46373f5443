package version

import "runtime"

// Stamped by the release build, for example:
//
//	go build -ldflags "-X github.com/HimethW/RFID-forklift/internal/platform/version.Version=v1.2.0"
//
// Local builds report the defaults.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const serviceName = "rfid-scan-server"

// Info is the /version payload.
type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	return Info{
		Service:   serviceName,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}
