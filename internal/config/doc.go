// Package config loads, validates, and defaults alfrd's TOML configuration.
//
// Configuration is resolved from an explicit --config path, then
// ~/.config/alfrd/config.toml, then ./alfrd.toml. Missing files are not an
// error; defaults apply. Values parsed from disk are overlaid onto Default()
// so partial files work.
package config
