/*
Package btrfs manages the copy-on-write subvolumes that hold burrow volumes.

Every volume lives in its own subvolume, the parent directory of its install
path:

	/pool/                      storage root (btrfs mount)
	  tmpl-7a1c/                template subvolume (downloaded image)
	    image.img
	  vol-0f1e/                 root volume subvolume (snapshot of tmpl-7a1c)
	    disk.img

The Store shells out to the btrfs CLI:

  - CreateSubvolume: btrfs subvolume create PATH
  - SnapshotSubvolume: btrfs subvolume snapshot SRC DST
  - DeleteSubvolume: btrfs subvolume delete PATH

Create and snapshot never overwrite. If the destination exists they fail with
ALREADY_EXISTS before running anything. Missing parent directories are
created first. Delete performs no probing of its own; the tool's exit status
is the answer.

CheckMounted is the gate used by init. It reads the mount table with
moby/sys/mountinfo and requires the mount covering the root to be btrfs.
*/
package btrfs
