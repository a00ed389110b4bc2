/*
Package api serves the agent HTTP API.

Every operation is a POST with a JSON body:

	POST /btrfs/init                              init
	POST /btrfs/image/sftp/download               downloadFromSftp
	POST /btrfs/bits/checkifexists                checkBitsExistence
	POST /btrfs/bits/delete                       deleteBits
	POST /btrfs/volumes/createrootfromtemplate    createRootVolumeFromTemplate
	POST /btrfs/volumes/createempty               createEmptyVolume

Operation failures are reported in the envelope ("success": false, "error",
"errorCode") with HTTP 200. Only a body that cannot be decoded gets a 400.

# Asynchronous Requests

A request carrying a callbackurl header is acknowledged with "{}" as soon as
its body is decoded. The operation then runs on a bounded worker pool
(golang.org/x/sync/semaphore) and its response is POSTed to the callback URL
with the taskuuid header of the request, or a generated UUID when the caller
sent none.

# Read-only Endpoints

	GET /btrfs/targets          registered iSCSI targets
	GET /btrfs/journal?limit=N  recorded operations, newest first
	GET /health, /ready, /live  component health
	GET /metrics                Prometheus metrics

Shutdown cancels the base context of all requests, which terminates running
external commands, and waits for asynchronous workers to deliver results.
*/
package api
