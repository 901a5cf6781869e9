package app

import (
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	u "ogcard/internal/utils"
)

const fontsRoute = "/fonts/"

// missingFontFiles lists the files under cfg.Fonts.Dir that the configured
// font URLs expect this server to serve but that do not exist. URLs on other
// hosts or outside /fonts/ are not checked.
func missingFontFiles(cfg u.Config) []string {
	if cfg.Fonts.Dir == "" {
		return nil
	}
	var missing []string
	for _, raw := range []string{cfg.Fonts.RegularURL, cfg.Fonts.BoldURL} {
		parsed, err := url.Parse(raw)
		if err != nil || !isLocalHost(parsed.Hostname()) || !strings.HasPrefix(parsed.Path, fontsRoute) {
			continue
		}
		path := filepath.Join(cfg.Fonts.Dir, filepath.FromSlash(strings.TrimPrefix(parsed.Path, fontsRoute)))
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			missing = append(missing, path)
		}
	}
	return missing
}

func isLocalHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// warnMissingFonts logs once at startup when card rendering is bound to fail
// because the self-served font files were never installed.
func warnMissingFonts(cfg u.Config) {
	for _, path := range missingFontFiles(cfg) {
		u.Warn("Font file missing from fonts.dir; /api/image will answer 500 until it is added", "path", path, "dir", cfg.Fonts.Dir)
	}
}
