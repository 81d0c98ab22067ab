package health

import (
	"os"
	"runtime"
	"runtime/debug"
	"time"
)

type VersionInfo struct {
	Version   string    `json:"version"`
	BuildInfo BuildInfo `json:"build"`
}

type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	Modified  bool      `json:"modified"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	OS        string    `json:"os"`
	Arch      string    `json:"arch"`
}

// getBuildInfo reads the VCS stamp embedded by the go tool. BUILD_VERSION,
// BUILD_COMMIT and BUILD_TIME override it for images built without VCS data.
func getBuildInfo() BuildInfo {
	buildInfo := BuildInfo{
		Version:   "dev",
		GitCommit: "unknown",
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			buildInfo.Version = info.Main.Version
		}

		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				buildInfo.GitCommit = shortCommit(setting.Value)
			case "vcs.modified":
				buildInfo.Modified = setting.Value == "true"
			case "vcs.time":
				if buildTime, err := time.Parse(time.RFC3339, setting.Value); err == nil {
					buildInfo.BuildTime = buildTime
				}
			}
		}
	}

	if value := os.Getenv("BUILD_VERSION"); value != "" {
		buildInfo.Version = value
	}
	if value := os.Getenv("BUILD_COMMIT"); value != "" {
		buildInfo.GitCommit = shortCommit(value)
	}
	if value := os.Getenv("BUILD_TIME"); value != "" {
		if buildTime, err := time.Parse(time.RFC3339, value); err == nil {
			buildInfo.BuildTime = buildTime
		}
	}

	return buildInfo
}

func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}
