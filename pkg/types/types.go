package types

import "time"

// AgentResponse is embedded in every response sent back to the caller
type AgentResponse struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	ErrorCode ErrorCode `json:"errorCode,omitempty"`
}

// SetError marks the response as failed and fills in the error text and code
func (r *AgentResponse) SetError(err error) {
	r.Success = false
	r.Error = err.Error()
	r.ErrorCode = CodeOf(err)
}

// CapacityResponse is the envelope shared by all mutating operations
type CapacityResponse struct {
	AgentResponse
	TotalCapacity     int64 `json:"totalCapacity"`
	AvailableCapacity int64 `json:"availableCapacity"`
}

// SetCapacity records a capacity snapshot on the response
func (r *CapacityResponse) SetCapacity(total, available int64) {
	r.TotalCapacity = total
	r.AvailableCapacity = available
}

// InitRequest initializes the storage root
type InitRequest struct {
	RootFolderPath string `json:"rootFolderPath"`
}

// InitResponse is returned by init
type InitResponse struct {
	CapacityResponse
}

// DownloadRequest copies an image from SFTP backup storage into a new subvolume
type DownloadRequest struct {
	Hostname                  string `json:"hostname"`
	SSHKey                    string `json:"sshKey"`
	BackupStorageInstallPath  string `json:"backupStorageInstallPath"`
	PrimaryStorageInstallPath string `json:"primaryStorageInstallPath"`
}

// DownloadResponse is returned by downloadFromSftp
type DownloadResponse struct {
	CapacityResponse
}

// CheckBitsRequest probes whether a path exists
type CheckBitsRequest struct {
	Path string `json:"path"`
}

// CheckBitsResponse is returned by checkBitsExistence
type CheckBitsResponse struct {
	AgentResponse
	IsExisting bool `json:"isExisting"`
}

// DeleteBitsRequest deletes the subvolume holding InstallPath and,
// when VolumeUUID is set, its target configuration
type DeleteBitsRequest struct {
	InstallPath string `json:"installPath"`
	VolumeUUID  string `json:"volumeUuid,omitempty"`
}

// DeleteBitsResponse is returned by deleteBits
type DeleteBitsResponse struct {
	CapacityResponse
}

// CreateRootVolumeRequest clones a cached template into a new root volume
type CreateRootVolumeRequest struct {
	TemplatePathInCache string `json:"templatePathInCache"`
	InstallPath         string `json:"installPath"`
	VolumeUUID          string `json:"volumeUuid"`
	ChapUsername        string `json:"chapUsername,omitempty"`
	ChapPassword        string `json:"chapPassword,omitempty"`
}

// CreateRootVolumeResponse is returned by createRootVolumeFromTemplate
type CreateRootVolumeResponse struct {
	CapacityResponse
	IscsiPath string `json:"iscsiPath,omitempty"`
}

// CreateEmptyVolumeRequest allocates a new empty raw volume
type CreateEmptyVolumeRequest struct {
	InstallPath  string `json:"installPath"`
	VolumeUUID   string `json:"volumeUuid"`
	Size         int64  `json:"size"`
	ChapUsername string `json:"chapUsername,omitempty"`
	ChapPassword string `json:"chapPassword,omitempty"`
}

// CreateEmptyVolumeResponse is returned by createEmptyVolume
type CreateEmptyVolumeResponse struct {
	CapacityResponse
	IscsiPath string `json:"iscsiPath,omitempty"`
}

// TargetInfo describes one registered target configuration
type TargetInfo struct {
	Name         string `json:"name"`
	VolumeUUID   string `json:"volumeUuid"`
	BackingStore string `json:"backingStore"`
	CHAP         bool   `json:"chap"`
	ConfigPath   string `json:"configPath"`
}

// ListTargetsResponse is returned by GET /btrfs/targets
type ListTargetsResponse struct {
	AgentResponse
	Targets []TargetInfo `json:"targets"`
}

// StepStatus is the outcome of a single step of an operation
type StepStatus string

const (
	StepDone               StepStatus = "done"
	StepFailed             StepStatus = "failed"
	StepCompensated        StepStatus = "compensated"
	StepCompensationFailed StepStatus = "compensation_failed"
)

// StepRecord is the journaled outcome of one step
type StepRecord struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// JournalEntry records one mutating operation and the steps it went through
type JournalEntry struct {
	ID          string       `json:"id"`
	Operation   string       `json:"operation"`
	VolumeUUID  string       `json:"volumeUuid,omitempty"`
	InstallPath string       `json:"installPath,omitempty"`
	StartedAt   time.Time    `json:"startedAt"`
	FinishedAt  time.Time    `json:"finishedAt"`
	Steps       []StepRecord `json:"steps,omitempty"`
	Success     bool         `json:"success"`
	ErrorCode   ErrorCode    `json:"errorCode,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// ListJournalResponse is returned by GET /btrfs/journal
type ListJournalResponse struct {
	AgentResponse
	Entries []JournalEntry `json:"entries"`
}
