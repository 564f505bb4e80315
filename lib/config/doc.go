// Package config loads go-onionpath settings through viper.
//
// Settings come from $HOME/.go-onionpath/config.yaml, which is written with
// the defaults on first run, or from the file named by CfgFile. Defaults
// returns every default in one tree; CurrentConfig reads the same tree back
// out of viper after the file and flags have been applied. Validate checks a
// tree section by section and reports the first problem.
package config
