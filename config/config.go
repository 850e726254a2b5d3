// Package config loads rmakedrv's driver configuration, adapted from the
// teacher's config/config.go: same profile-scoped INI file, default-path
// fallback, and Validate/GetSystemInfo shape, retargeted from dsynth's
// port-build paths to the driver's worker pool, chroot, and cache
// settings (SPEC_FULL.md domain stack). Parsing now goes through
// gopkg.in/ini.v1 instead of the teacher's hand-rolled bufio scanner,
// which the teacher itself only exercised from config_test.go -
// switching the production parser onto the library it already tests
// against removes that split.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/ini.v1"
)

// Config holds rmakedrv's driver configuration.
type Config struct {
	// Paths
	ConfigPath        string
	ChangesetCacheDir string // <baseDir>/cscache (spec.md 6 Persisted state)
	BuildLogPath      string // log directory; the job log is <BuildLogPath>/<jobId>.log (spec.md 6)
	ChrootRoot        string // parent directory chroot.Factory creates roots under

	// Worker pool
	WorkerPoolSize int

	// Chroot timeouts (spec.md 5)
	SocketWaitSeconds  int
	PingTimeoutSeconds int
	StopTimeoutSeconds int

	// Chroot capability
	PrivilegedChroot bool
	ChrootHelperPath string
	BuildServerPath  string

	// Policy
	TargetLabelSuffix string // appended to a recipe's version label to compute targetLabel (spec.md 4.1 dispatchBuild)
	Signals           []string

	// Nodes lists the build node ids the admin CLI's worker.Fleet status/
	// suspend/resume surface operates on (spec.md 6 admin surface).
	Nodes []string

	Profile string
}

// LoadConfig loads configuration from file, applying profile-section
// scoping and path defaults the same way the teacher's LoadConfig does.
func LoadConfig(configDir string, profile string) (*Config, error) {
	cfg := &Config{
		WorkerPoolSize:      runtime.NumCPU(),
		SocketWaitSeconds:   180,
		PingTimeoutSeconds:  60,
		StopTimeoutSeconds:  40,
		PrivilegedChroot:    false,
		TargetLabelSuffix:   "@rmakedrv:linux",
		Signals:             []string{"SIGTERM", "SIGINT"},
		Profile:             profile,
	}

	if configDir == "" {
		if _, err := os.Stat("/etc/rmakedrv"); err == nil {
			configDir = "/etc/rmakedrv"
		} else if _, err := os.Stat("/usr/local/etc/rmakedrv"); err == nil {
			configDir = "/usr/local/etc/rmakedrv"
		} else {
			configDir = "/etc/rmakedrv"
		}
	}
	cfg.ConfigPath = configDir

	configFile := filepath.Join(configDir, "rmakedrv.ini")
	if _, err := os.Stat(configFile); err == nil {
		if err := cfg.parseINI(configFile); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if cfg.ChrootRoot == "" {
		cfg.ChrootRoot = "/var/rmakedrv/chroots"
	}
	if cfg.ChangesetCacheDir == "" {
		cfg.ChangesetCacheDir = "/var/rmakedrv/cscache"
	}
	if cfg.BuildLogPath == "" {
		cfg.BuildLogPath = "/var/rmakedrv/logs"
	}
	if cfg.WorkerPoolSize < 1 {
		cfg.WorkerPoolSize = 1
	}

	return cfg, nil
}

// parseINI parses an INI-format configuration file via gopkg.in/ini.v1.
// A [Profile] section's keys override the [Global] section's for the
// requested profile, mirroring the teacher's "skip sections that are not
// the active profile" rule.
func (cfg *Config) parseINI(filename string) error {
	f, err := ini.Load(filename)
	if err != nil {
		return err
	}

	sections := []string{"Global"}
	if cfg.Profile != "" {
		sections = append(sections, cfg.Profile)
	}

	for _, name := range sections {
		sec, err := f.GetSection(name)
		if err != nil {
			continue // section absent is not an error; defaults stand
		}
		for _, key := range sec.Keys() {
			cfg.setConfigValue(key.Name(), key.Value())
		}
	}
	return nil
}

func (cfg *Config) setConfigValue(key, value string) {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "_", "")
	key = strings.ReplaceAll(key, " ", "")

	switch key {
	case "workerpoolsize", "workers", "numberofbuilders":
		if n, err := parseIntDefault(value, -1); err == nil && n > 0 {
			cfg.WorkerPoolSize = n
		}
	case "chrootroot", "rootdir":
		cfg.ChrootRoot = value
	case "changesetcachedir", "cscache":
		cfg.ChangesetCacheDir = value
	case "buildlogpath", "logpath":
		cfg.BuildLogPath = value
	case "socketwaitseconds":
		if n, err := parseIntDefault(value, -1); err == nil && n > 0 {
			cfg.SocketWaitSeconds = n
		}
	case "pingtimeoutseconds":
		if n, err := parseIntDefault(value, -1); err == nil && n > 0 {
			cfg.PingTimeoutSeconds = n
		}
	case "stoptimeoutseconds":
		if n, err := parseIntDefault(value, -1); err == nil && n > 0 {
			cfg.StopTimeoutSeconds = n
		}
	case "privilegedchroot":
		cfg.PrivilegedChroot = parseBool(value)
	case "chroothelperpath":
		cfg.ChrootHelperPath = value
	case "buildserverpath":
		cfg.BuildServerPath = value
	case "targetlabelsuffix":
		cfg.TargetLabelSuffix = value
	case "signals":
		cfg.Signals = strings.Split(value, ",")
		for i := range cfg.Signals {
			cfg.Signals[i] = strings.TrimSpace(cfg.Signals[i])
		}
	case "nodes":
		cfg.Nodes = strings.Split(value, ",")
		for i := range cfg.Nodes {
			cfg.Nodes[i] = strings.TrimSpace(cfg.Nodes[i])
		}
	}
}

func parseIntDefault(value string, def int) (int, error) {
	var n int
	_, err := fmt.Sscanf(value, "%d", &n)
	if err != nil {
		return def, err
	}
	return n, nil
}

func parseBool(value string) bool {
	value = strings.ToLower(value)
	return value == "yes" || value == "true" || value == "1" || value == "on"
}

// WriteDefaultConfig writes a default configuration file via ini.v1.
func WriteDefaultConfig(filename string, cfg *Config) error {
	f := ini.Empty()
	sec, err := f.NewSection("Global")
	if err != nil {
		return err
	}

	_, _ = sec.NewKey("WorkerPoolSize", fmt.Sprintf("%d", cfg.WorkerPoolSize))
	_, _ = sec.NewKey("ChrootRoot", cfg.ChrootRoot)
	_, _ = sec.NewKey("ChangesetCacheDir", cfg.ChangesetCacheDir)
	_, _ = sec.NewKey("BuildLogPath", cfg.BuildLogPath)
	_, _ = sec.NewKey("SocketWaitSeconds", fmt.Sprintf("%d", cfg.SocketWaitSeconds))
	_, _ = sec.NewKey("PingTimeoutSeconds", fmt.Sprintf("%d", cfg.PingTimeoutSeconds))
	_, _ = sec.NewKey("StopTimeoutSeconds", fmt.Sprintf("%d", cfg.StopTimeoutSeconds))
	_, _ = sec.NewKey("PrivilegedChroot", fmt.Sprintf("%v", cfg.PrivilegedChroot))
	_, _ = sec.NewKey("TargetLabelSuffix", cfg.TargetLabelSuffix)
	_, _ = sec.NewKey("Signals", strings.Join(cfg.Signals, ","))
	_, _ = sec.NewKey("Nodes", strings.Join(cfg.Nodes, ","))

	return f.SaveTo(filename)
}

// Validate checks configuration validity, creating any missing directory
// under the driver's control (chroot root, changeset cache, build log).
func (cfg *Config) Validate() error {
	requiredDirs := map[string]string{
		"ChrootRoot":        cfg.ChrootRoot,
		"ChangesetCacheDir": cfg.ChangesetCacheDir,
		"BuildLogPath":      cfg.BuildLogPath,
	}

	for name, path := range requiredDirs {
		if path == "" {
			return fmt.Errorf("%s is not configured", name)
		}
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				if err := os.MkdirAll(path, 0755); err != nil {
					return fmt.Errorf("%s directory %s cannot be created: %w", name, path, err)
				}
			} else {
				return fmt.Errorf("%s directory %s: %w", name, path, err)
			}
		} else if !info.IsDir() {
			return fmt.Errorf("%s path %s is not a directory", name, path)
		}
	}

	if cfg.WorkerPoolSize < 1 {
		return fmt.Errorf("WorkerPoolSize must be at least 1")
	}
	if cfg.WorkerPoolSize > 1024 {
		return fmt.Errorf("WorkerPoolSize is too large (max 1024)")
	}

	return nil
}

// SocketWait, PingTimeout, StopTimeout convert the configured second
// counts into time.Duration for chroot.Capabilities.
func (cfg *Config) SocketWait() time.Duration {
	return time.Duration(cfg.SocketWaitSeconds) * time.Second
}

func (cfg *Config) PingTimeout() time.Duration {
	return time.Duration(cfg.PingTimeoutSeconds) * time.Second
}

func (cfg *Config) StopTimeout() time.Duration {
	return time.Duration(cfg.StopTimeoutSeconds) * time.Second
}

// GetSystemInfo returns system information, unchanged from the teacher
// (environment/bsd's sibling data, sourced here via golang.org/x/sys/unix
// the same way).
func GetSystemInfo() (osname, osversion, arch string, ncpus int) {
	var utsname unix.Utsname
	if err := unix.Uname(&utsname); err == nil {
		osname = charsToString(utsname.Sysname[:])
		osversion = charsToString(utsname.Release[:])
		arch = charsToString(utsname.Machine[:])
	}
	ncpus = runtime.NumCPU()
	return
}

func charsToString(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}
