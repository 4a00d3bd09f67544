package obs

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Build describes the running binary.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

var (
	buildMu       sync.RWMutex
	build         = Build{Version: "dev", Commit: "unknown", GoVersion: runtime.Version()}
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "famvault_build_info",
			Help: "Constant 1, labelled with the build of the running famvault API.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// InitBuildInfo records the build and exports it as famvault_build_info.
// Calling it again replaces the previous label set.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})

	buildMu.Lock()
	defer buildMu.Unlock()
	if version == "" {
		version = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	buildInfo.Reset()
	build = Build{Version: version, Commit: commit, GoVersion: runtime.Version()}
	buildInfo.WithLabelValues(build.Version, build.Commit, build.GoVersion).Set(1)
}

// CurrentBuild returns what InitBuildInfo last recorded.
func CurrentBuild() Build {
	buildMu.RLock()
	defer buildMu.RUnlock()
	return build
}
