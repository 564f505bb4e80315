package util

import (
	"os"
)

// UserHome returns the directory runtime state lives under. It prefers
// os.UserHomeDir, then $HOME and %USERPROFILE%, then the working directory.
func UserHome() string {
	home, err := os.UserHomeDir()
	if err == nil {
		return home
	}
	for _, env := range []string{"HOME", "USERPROFILE"} {
		if v := os.Getenv(env); v != "" {
			log.WithError(err).WithField("env", env).Warn("home directory lookup failed, using environment")
			return v
		}
	}
	wd, wdErr := os.Getwd()
	if wdErr != nil {
		panic("go-onionpath: cannot determine a home directory; set $HOME")
	}
	log.WithError(err).Warn("home directory lookup failed, using working directory")
	return wd
}
