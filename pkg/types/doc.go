/*
Package types defines the wire contract and error taxonomy shared by all
burrow packages.

# Requests and Responses

Every operation has a request struct decoded from the JSON body and a
response struct encoded back. Field names are the wire contract and must not
change: callers already send rootFolderPath, installPath, volumeUuid,
templatePathInCache and friends, and read success, error, totalCapacity,
availableCapacity, isExisting and iscsiPath.

Mutating operations embed CapacityResponse, which embeds AgentResponse:

	{
	  "success": true,
	  "totalCapacity": 107374182400,
	  "availableCapacity": 96636764160,
	  "iscsiPath": "iqn.2026-10.org.zstack:0f1e..."
	}

# Errors

Failures are reported as free text in "error" plus a machine-readable
"errorCode". The codes are:

  - ALREADY_EXISTS: destination subvolume, file or target config present
  - NOT_FOUND: referenced template or file missing
  - PRECONDITION_FAILED: root not initialized or not btrfs, unsupported image format
  - EXTERNAL_TOOL_FAILURE: btrfs, qemu-img, tgt-admin or ssh failed
  - IO_FAILURE: local filesystem errors (default for uncoded errors)
  - INVALID_ARGUMENT: malformed request field

Build coded errors with Errorf or Wrap and read them back with CodeOf.
*/
package types
