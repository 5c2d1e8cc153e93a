package daemon

import (
	"time"
)

// PowerAction is a state transition requested of a server process
type PowerAction string

const (
	PowerStart   PowerAction = "start"
	PowerStop    PowerAction = "stop"
	PowerRestart PowerAction = "restart"
	PowerKill    PowerAction = "kill"
)

// Valid reports whether a is a known power action
func (a PowerAction) Valid() bool {
	switch a {
	case PowerStart, PowerStop, PowerRestart, PowerKill:
		return true
	}
	return false
}

// ProcessState is the daemon's view of a server process
type ProcessState string

const (
	StateOffline  ProcessState = "offline"
	StateStarting ProcessState = "starting"
	StateRunning  ProcessState = "running"
	StateStopping ProcessState = "stopping"
)

// Utilization is a point-in-time resource sample
type Utilization struct {
	MemoryBytes      int64   `json:"memory_bytes"`
	MemoryLimitBytes int64   `json:"memory_limit_bytes"`
	CPUAbsolute      float64 `json:"cpu_absolute"`
	DiskBytes        int64   `json:"disk_bytes"`
	NetworkRxBytes   int64   `json:"network_rx_bytes"`
	NetworkTxBytes   int64   `json:"network_tx_bytes"`
	Uptime           int64   `json:"uptime"` // milliseconds
}

// ResourceSnapshot is the state and utilization of one server
type ResourceSnapshot struct {
	State       ProcessState `json:"state"`
	IsSuspended bool         `json:"is_suspended"`
	Utilization Utilization  `json:"utilization"`
}

// OfflineSnapshot is what read paths report when the daemon cannot answer
func OfflineSnapshot() ResourceSnapshot {
	return ResourceSnapshot{State: StateOffline}
}

// FileObject describes one entry of a directory listing
type FileObject struct {
	Name       string    `json:"name"`
	Mode       string    `json:"mode"`
	ModeBits   string    `json:"mode_bits"`
	Size       int64     `json:"size"`
	IsFile     bool      `json:"file"`
	IsSymlink  bool      `json:"symlink"`
	Mimetype   string    `json:"mime"`
	CreatedAt  time.Time `json:"created"`
	ModifiedAt time.Time `json:"modified"`
}

// RenamePair moves From to To, both relative to the request root
type RenamePair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ChmodEntry sets the mode of one file
type ChmodEntry struct {
	File string `json:"file"`
	Mode string `json:"mode"`
}

// PullRequest asks the daemon to download a remote file into the server
type PullRequest struct {
	URL        string `json:"url"`
	Directory  string `json:"directory,omitempty"`
	Filename   string `json:"filename,omitempty"`
	UseHeader  bool   `json:"use_header,omitempty"`
	Foreground bool   `json:"foreground,omitempty"`
}

// SignedURL is a short-lived URL minted by the daemon
type SignedURL struct {
	URL string `json:"url"`
}

// BackupDescriptor is a backup as the daemon reports it
type BackupDescriptor struct {
	UUID     string    `json:"uuid"`
	Checksum string    `json:"checksum"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created_at"`
}

// RestoreRequest restores a backup onto its server
type RestoreRequest struct {
	Adapter     string `json:"adapter"`
	Truncate    bool   `json:"truncate_directory"`
	DownloadURL string `json:"download_url,omitempty"`
}

// AllocationMapping is the network configuration handed to the daemon
type AllocationMapping struct {
	Default struct {
		IP   string `json:"ip"`
		Port int    `json:"port"`
	} `json:"default"`
	Mappings map[string][]int `json:"mappings"`
}

// BuildLimits are the container limits for a server
type BuildLimits struct {
	MemoryLimit int64  `json:"memory_limit"`
	Swap        int64  `json:"swap"`
	IOWeight    int64  `json:"io_weight"`
	CPULimit    int64  `json:"cpu_limit"`
	Threads     string `json:"threads,omitempty"`
	DiskSpace   int64  `json:"disk_space"`
}

// ServerConfig is the full description a daemon needs to create a server
type ServerConfig struct {
	UUID              string            `json:"uuid"`
	Meta              ServerMeta        `json:"meta"`
	Suspended         bool              `json:"suspended"`
	Invocation        string            `json:"invocation"`
	Environment       map[string]string `json:"environment"`
	Build             BuildLimits       `json:"build"`
	Container         ContainerSpec     `json:"container"`
	Allocations       AllocationMapping `json:"allocations"`
	Egg               EggSpec           `json:"egg"`
	StartOnCompletion bool              `json:"start_on_completion"`
}

// ServerMeta carries display data for the daemon's logs
type ServerMeta struct {
	Name string `json:"name"`
}

// ContainerSpec selects the runtime image
type ContainerSpec struct {
	Image string `json:"image"`
}

// EggSpec identifies the egg the server was built from
type EggSpec struct {
	ID string `json:"id"`
}

// ServerPatch is a partial update; nil fields are left unchanged
type ServerPatch struct {
	Suspended   *bool             `json:"suspended,omitempty"`
	Build       *BuildLimits      `json:"build,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Invocation  *string           `json:"invocation,omitempty"`
}

// TransferRequest asks the destination daemon to pull a server from the source
type TransferRequest struct {
	// URL is the source daemon's archive endpoint
	URL string `json:"url"`
	// Token authorizes the destination against the source daemon
	Token  string         `json:"token"`
	Server TransferServer `json:"server"`
	// Allocations is the destination network configuration
	Allocations AllocationMapping `json:"allocations"`
}

// TransferServer identifies the server being moved
type TransferServer struct {
	UUID              string `json:"uuid"`
	StartOnCompletion bool   `json:"start_on_completion"`
}

// WebSocketToken is a console credential minted by the daemon
type WebSocketToken struct {
	Token  string `json:"token"`
	Socket string `json:"socket"`
}

// SystemInformation describes the daemon host
type SystemInformation struct {
	Version       string `json:"version"`
	KernelVersion string `json:"kernel_version"`
	Architecture  string `json:"architecture"`
	OS            string `json:"os"`
	CPUCount      int    `json:"cpu_count"`
}
