package docker

import (
	"strings"
	"time"

	"rombuilder/internal/config"
)

const defaultImage = "ghcr.io/rombuilder/converter:latest"

// Config holds configuration for the local container runner.
type Config struct {
	Image               string        // converter image (DOCKER_CONVERTER_IMAGE)
	Command             []string      // overrides the image's command, empty = image default
	Workspace           string        // scratch directory inside the container (default: /workspace)
	DriveFolder         string        // upload folder passed to the converter (DRIVE_FOLDER_PATH)
	RcloneRemote        string        // rclone remote name (RCLONE_REMOTE_NAME)
	CPUs                float64       // CPU limit, 0 = unlimited
	MemoryMB            int           // memory limit in MiB, 0 = unlimited
	Retention           time.Duration // how long exited containers are kept (default: 15m)
	MaintenanceInterval time.Duration // how often exited containers are swept (default: 1m)
	ExtraHosts          []string      // extra /etc/hosts entries, e.g. ["drive.local:host-gateway"]
}

// LoadConfigFromEnv loads runner configuration from environment variables.
func LoadConfigFromEnv() Config {
	var extraHosts []string
	if hosts := config.GetEnv("EXTRA_HOSTS", ""); hosts != "" {
		extraHosts = strings.Split(hosts, ",")
	}

	cfg := Config{
		Image:               config.GetEnv("DOCKER_CONVERTER_IMAGE", defaultImage),
		Workspace:           config.GetEnv("DOCKER_WORKSPACE", "/workspace"),
		DriveFolder:         config.GetEnv("DRIVE_FOLDER_PATH", ""),
		RcloneRemote:        config.GetEnv("RCLONE_REMOTE_NAME", "gdrive"),
		CPUs:                config.GetFloatEnv("DOCKER_CPUS", 0),
		MemoryMB:            config.GetIntEnv("DOCKER_MEMORY_MB", 0),
		Retention:           config.GetDurationEnv("CONTAINER_RETENTION", 15*time.Minute),
		MaintenanceInterval: config.GetDurationEnv("MAINTENANCE_INTERVAL", time.Minute),
		ExtraHosts:          extraHosts,
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Image == "" {
		c.Image = defaultImage
	}
	if c.Workspace == "" {
		c.Workspace = "/workspace"
	}
	if c.Retention <= 0 {
		c.Retention = 15 * time.Minute
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = time.Minute
	}
	return c
}
