package platform

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	appName      = "Sonata"
	appSlug      = "sonata"
	androidAppID = "io.sonata.music"
)

type dirKind int

const (
	dataDir dirKind = iota
	cacheDir
	configDir
)

// GetDataDir returns where the local database and logs live.
func GetDataDir() (string, error) { return resolve(dataDir) }

// GetCacheDir returns the directory for disposable cached data.
func GetCacheDir() (string, error) { return resolve(cacheDir) }

// GetConfigDir returns the directory searched for config.yaml.
func GetConfigDir() (string, error) { return resolve(configDir) }

func resolve(kind dirKind) (string, error) {
	switch runtime.GOOS {
	case "windows":
		return windowsDir(kind), nil
	case "android":
		return androidDir(kind), nil
	case "darwin", "ios":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		switch kind {
		case cacheDir:
			return filepath.Join(home, "Library", "Caches", appName), nil
		case configDir:
			return filepath.Join(home, "Library", "Preferences", appName), nil
		default:
			return filepath.Join(home, "Library", "Application Support", appName), nil
		}
	default:
		return xdgDir(kind)
	}
}

func windowsDir(kind dirKind) string {
	if kind == cacheDir {
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, appName, "Cache")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local", appName, "Cache")
	}
	if roaming := os.Getenv("APPDATA"); roaming != "" {
		return filepath.Join(roaming, appName)
	}
	return filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming", appName)
}

func androidDir(kind dirKind) string {
	base := "/data/data"
	if androidData := os.Getenv("ANDROID_DATA"); androidData != "" {
		base = filepath.Join(androidData, "data")
	}
	sub := "files"
	if kind == cacheDir {
		sub = "cache"
	}
	return filepath.Join(base, androidAppID, sub)
}

func xdgDir(kind dirKind) (string, error) {
	env, fallback := "XDG_DATA_HOME", filepath.Join(".local", "share")
	switch kind {
	case cacheDir:
		env, fallback = "XDG_CACHE_HOME", ".cache"
	case configDir:
		env, fallback = "XDG_CONFIG_HOME", ".config"
	}

	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, appSlug), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fallback, appSlug), nil
}
