/*
Package volume runs the lifecycle operations of a btrfs-backed iSCSI storage
node.

# Storage Model

A volume is a file inside its own btrfs subvolume, the parent directory of
the install path. Templates are volumes too: root volumes are writable
snapshots of a template subvolume.

	/pool/                         storage root
	  tmpl-7a1c/image.img          downloaded template
	  vol-0f1e/disk.img            root volume, snapshot of tmpl-7a1c
	  vol-9b2d/disk.img            empty volume, sparse raw file

Nothing is cached in memory. Existence of subvolumes, files and target
configs is probed from disk through the Repository on every request, so the
agent can restart at any time.

# Operations

	Init                          check btrfs mount, set the storage root
	DownloadFromBackup            create subvolume, fetch, normalize to raw
	CheckBitsExistence            stat a path
	DeleteBits                    unregister target (best effort), delete subvolume
	CreateRootVolumeFromTemplate  snapshot template, move image, register target
	CreateEmptyVolume             create subvolume, register target, allocate raw file

Every mutating response carries a fresh capacity reading of the root.

# Failure Handling

Conflicts (an existing subvolume or target config) are detected before any
side effect, so a rejected request leaves nothing behind. Once side effects
start, each operation runs a Plan of steps. When a step fails and rollback is
enabled the steps that ran are compensated in reverse order: targets are
unregistered and created subvolumes deleted. Compensation failures are logged
and journaled but the error of the failed step is what the caller sees.
With rollback disabled the partial state stays on disk and the journal is the
record an operator uses to clean it up.

# Concurrency

Requests for the same subvolume or volume UUID are serialized with keyed
locks (moby/locker). Requests for unrelated volumes run in parallel. Target
registration has its own global mutex because tgt reloads are host wide.
*/
package volume
