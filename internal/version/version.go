package version

import "runtime/debug"

// Set via -ldflags "-X github.com/samcharles93/codepack/internal/version.Version=...".
var (
	Version   = ""
	Commit    = ""
	BuildTime = ""
)

type Info struct {
	Version   string
	Commit    string
	BuildTime string
}

// Resolve fills in whatever -ldflags left empty from the embedded build info.
func Resolve() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = s.Value
				}
			}
		}
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	return info
}

func (i Info) String() string {
	if i.Commit == "" {
		return i.Version
	}
	return i.Version + " (" + shortCommit(i.Commit) + ")"
}

func String() string {
	return Resolve().String()
}

func shortCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}
