package notify

import (
	"bufio"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

func consoleURL(jobURL string, build int64) string {
	return fmt.Sprintf("%s/%d/console", jobURL, build)
}

func unityLogURL(jobURL, target string) string {
	return jobURL + "/ws/unity_build_" + url.PathEscape(target) + ".log"
}

// ArtifactName embeds the build target before the file extension:
// "game.apk" built for "android" is delivered as "game_android.apk".
func ArtifactName(name, target string) string {
	if target == "" {
		return name
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "_" + target + ext
}

// parseProperties reads "key=value" lines. Lines without "=" are skipped and
// the first "=" splits key from value.
func parseProperties(data []byte) map[string]string {
	props := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return props
}
