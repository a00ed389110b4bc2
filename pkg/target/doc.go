/*
Package target exposes volumes over iSCSI through tgt.

Each volume gets its own config file, <config_dir>/<volume uuid>.conf:

	<target iqn.2026-10.org.zstack:0f1e...>
	    backing-store /pool/vol-0f1e/disk.img
	    driver iscsi
	    incominguser alice s3cret
	    write-cache on
	</target>

The incominguser line is only written when both CHAP credentials are set.
After every write or removal the registry runs

	tgt-admin --update ALL --force

which reloads every target on the host. A process-wide mutex covers the file
change and the reload together.

The target name is derived from the current month and the volume UUID, so it
is stable for a given volume within a month and never shared between two
volumes.
*/
package target
