package config

import (
	"os"
	"path/filepath"
)

// FindConfigFile returns the first existing "<service>.yaml" in the working
// directory, ./config, ./configs, /etc/<service> or ~/.<service>. It returns
// "" when none exists.
func FindConfigFile(serviceName string) string {
	name := serviceName + ".yaml"
	candidates := []string{
		name,
		filepath.Join("config", name),
		filepath.Join("configs", name),
		filepath.Join("/etc", serviceName, name),
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "."+serviceName, name))
	}
	return firstExisting(candidates)
}

// FindEnvironmentFile returns the first existing dotenv file for the service.
func FindEnvironmentFile(serviceName string) string {
	name := serviceName + ".env"
	return firstExisting([]string{
		".env",
		name,
		filepath.Join("config", ".env"),
		filepath.Join("config", name),
		filepath.Join("configs", ".env"),
		filepath.Join("configs", name),
	})
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
