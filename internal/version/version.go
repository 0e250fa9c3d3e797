package version

// Version is the current version of the shadowtalk binaries.
// Override it at build time with:
//
//	go build -ldflags="-X 'github.com/Divyanshu-Bhandari/shadow-talk/internal/version.Version=v1.0.0'"
var Version = "dev"
