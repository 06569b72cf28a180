// Package version provides the build's identity for logs and the CLI.
package version

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
)

var (
	// Module path and version of the main binary.
	Main string
	// Version of this module as a dependency of the main binary.
	Swarmcheck string
	// Something like "swarmcheck/v0.1.0 (go1.24.2)".
	Default string
)

func init() {
	type Newtype struct{}
	thisPkg := reflect.TypeOf(Newtype{}).PkgPath()
	var (
		mainPath    = "unknown"
		mainVersion = "unknown"
		goVersion   = "unknown"
	)
	Swarmcheck = "unknown"
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		mainPath = buildInfo.Main.Path
		mainVersion = buildInfo.Main.Version
		goVersion = buildInfo.GoVersion
		thisModule := ""
		// Note that if the main module is the same as this module, we get a version of "(devel)".
		for _, dep := range append(buildInfo.Deps, &buildInfo.Main) {
			if strings.HasPrefix(thisPkg, dep.Path) && len(dep.Path) >= len(thisModule) {
				thisModule = dep.Path
				Swarmcheck = dep.Version
			}
		}
	}
	Main = fmt.Sprintf("%v %v", mainPath, mainVersion)
	Default = fmt.Sprintf("swarmcheck/%v (%v)", Swarmcheck, goVersion)
}
