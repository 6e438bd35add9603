// Package config loads IMAP connection details from the environment.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	envIMAPHost = "MAILROUNDS_IMAP_HOST"
	envIMAPPort = "MAILROUNDS_IMAP_PORT"
	envIMAPUser = "MAILROUNDS_IMAP_USER"
	envIMAPPass = "MAILROUNDS_IMAP_PASS"
)

const defaultIMAPPort = 993

// IMAPEnv holds the IMAP connection details from environment variables.
type IMAPEnv struct {
	Host string
	Port int
	User string
	Pass string
}

// Addr returns the HOST:PORT dial address.
func (e IMAPEnv) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// LoadDotEnv loads a .env file into the environment. A missing file is not
// an error; explicit environment variables win either way.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// IMAPEnvFromEnv loads IMAP connection details and validates required
// entries. The port defaults to 993 when unset.
func IMAPEnvFromEnv() (IMAPEnv, error) {
	missing := []string{}

	host := strings.TrimSpace(os.Getenv(envIMAPHost))
	if host == "" {
		missing = append(missing, envIMAPHost)
	}

	user := strings.TrimSpace(os.Getenv(envIMAPUser))
	if user == "" {
		missing = append(missing, envIMAPUser)
	}

	pass := strings.TrimSpace(os.Getenv(envIMAPPass))
	if pass == "" {
		missing = append(missing, envIMAPPass)
	}

	if len(missing) > 0 {
		return IMAPEnv{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	port := defaultIMAPPort
	if portRaw := strings.TrimSpace(os.Getenv(envIMAPPort)); portRaw != "" {
		parsed, err := strconv.Atoi(portRaw)
		if err != nil || parsed <= 0 || parsed > 65535 {
			return IMAPEnv{}, fmt.Errorf("invalid %s: %q", envIMAPPort, portRaw)
		}
		port = parsed
	}

	return IMAPEnv{Host: host, Port: port, User: user, Pass: pass}, nil
}
