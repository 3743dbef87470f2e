package server

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
)

func dbDSNFromEnv() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}

	host := getenvDefault("DB_HOST", "127.0.0.1")
	port := getenvDefault("DB_PORT", "5432")
	user := getenvDefault("DB_USER", "guard")
	pass := getenvDefault("DB_PASSWORD", "guard")
	name := getenvDefault("DB_NAME", "confidra")
	sslmode := getenvDefault("DB_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   host + ":" + port,
		Path:   "/" + name,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// findUp looks for rel in the working directory and up to seven parents, so
// binaries and package tests both resolve the repo config/ tree.
func findUp(rel string) (string, error) {
	path := rel
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: " + rel + " not found")
}
