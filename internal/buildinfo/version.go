package buildinfo

// Version is overridden at link time with -ldflags "-X go2tv.app/castkey/internal/buildinfo.Version=...".
var Version = "dev"
