package version

// Version is the current version of benchsweep.
// Can be overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "0.4.0"

// Name is the application name.
const Name = "benchsweep"

// Description is a short description of the application.
const Description = "Build-aware benchmark sweep orchestrator"
