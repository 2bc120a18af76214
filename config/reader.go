package config

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gauss-ops/gs-expansion/pkg/logger"
)

const (
	DefaultEnvFile     = "/etc/profile"
	DefaultMaxRetries  = 3
	DefaultSettleDelay = 10 * time.Second
	DefaultSSHPort     = 22
	DefaultAWSRegion   = "us-east-1"
)

var log = logger.AddLogger()

// Env is the runtime configuration of an expansion run.
type Env struct {
	SSHUser    string
	SSHKeyPath string
	SSHPort    int

	// EnvFile is sourced before every database tool invocation.
	EnvFile string

	MaxRetries         int
	SettleDelay        time.Duration
	PrimarySettleDelay time.Duration

	LogLevel  string
	LogFormat string
	AWSRegion string
}

// AddEnv exports the KEY=VALUE lines of dotEnvPath, when given, into the process
// environment and returns the configuration read from it.
func AddEnv(dotEnvPath string) (*Env, error) {
	if dotEnvPath != "" {
		if err := setEnv(dotEnvPath); err != nil {
			log.Errorf("failed to set environment variables: %v\n", err)
			return nil, err
		}
	}

	env := &Env{
		SSHUser:    os.Getenv("SSH_USER"),
		SSHKeyPath: os.Getenv("SSH_KEY_PATH"),
		EnvFile:    os.Getenv("MPPDB_ENV_SEPARATE_PATH"),
		LogLevel:   os.Getenv("LOG_LEVEL"),
		LogFormat:  os.Getenv("LOG_FORMAT"),
		AWSRegion:  os.Getenv("AWS_REGION"),
	}

	var err error
	env.SSHPort, err = intEnv("SSH_PORT", DefaultSSHPort)
	if err != nil {
		return nil, err
	}
	env.MaxRetries, err = intEnv("EXPANSION_MAX_RETRIES", DefaultMaxRetries)
	if err != nil {
		return nil, err
	}
	env.SettleDelay, err = durationEnv("EXPANSION_SETTLE_DELAY", DefaultSettleDelay)
	if err != nil {
		return nil, err
	}
	env.PrimarySettleDelay, err = durationEnv("EXPANSION_PRIMARY_SETTLE_DELAY", DefaultSettleDelay)
	if err != nil {
		return nil, err
	}

	normalize(env)

	if env.MaxRetries < 1 {
		return nil, errors.New("EXPANSION_MAX_RETRIES must be at least 1")
	}

	return env, nil
}

func normalize(env *Env) {
	env.SSHUser = strings.TrimSpace(env.SSHUser)
	if env.SSHUser == "" {
		env.SSHUser = "root"
	}

	env.SSHKeyPath = strings.TrimSpace(env.SSHKeyPath)
	if env.SSHKeyPath == "" {
		home, _ := os.UserHomeDir()
		env.SSHKeyPath = filepath.Join(home, ".ssh", "id_rsa")
	}

	env.EnvFile = strings.TrimSpace(env.EnvFile)
	if env.EnvFile == "" {
		env.EnvFile = DefaultEnvFile
	}

	env.LogLevel = strings.ToLower(strings.TrimSpace(env.LogLevel))
	if env.LogLevel == "" {
		env.LogLevel = "info"
	}

	env.LogFormat = strings.ToLower(strings.TrimSpace(env.LogFormat))
	if env.AWSRegion == "" {
		env.AWSRegion = DefaultAWSRegion
	}
}

func intEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("invalid " + key + ": " + v)
	}

	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.New("invalid " + key + ": " + v)
	}

	return d, nil
}

func setEnv(fullPath string) error {
	file, err := os.Open(fullPath)
	if err != nil {
		log.Errorf("failed to open file: %v\n", err)
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		err = os.Setenv(strings.Trim(key, "\""), strings.Trim(value, "\""))
		if err != nil {
			log.Errorf("failed to set environment variables: %v\n", err)
			return err
		}
	}

	return scanner.Err()
}
