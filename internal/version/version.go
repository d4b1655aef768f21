package version

import (
	"fmt"
	"runtime"

	"github.com/xebook/readium-encrypt/internal/conf"
)

type VersionStat struct {
	Version     string `json:"version"`
	VersionLong string `json:"versionLong,omitempty"`
	BuildTime   string `json:"buildTime,omitempty"`
	GoVersion   string `json:"goVersion"`
	Platform    string `json:"platform"`
}

func GetVersion() VersionStat {
	return VersionStat{
		Version:     conf.Version,
		VersionLong: conf.VersionLong,
		BuildTime:   conf.BuildTime,
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (v VersionStat) String() string {
	s := fmt.Sprintf("readium-encrypt %s (%s, %s)", v.Version, v.GoVersion, v.Platform)
	if v.BuildTime != "" {
		s += " built " + v.BuildTime
	}
	return s
}
