/*
Package client is a small HTTP JSON client for the burrow agent API, used by
the CLI to read state from a running agent.

	c, err := client.NewClient("127.0.0.1:7762")
	if err != nil {
		return err
	}
	entries, err := c.ListJournal(ctx, 20)

Failed agent responses are returned as *types.Error carrying the agent's
error code, so callers can use types.IsCode on them.
*/
package client
