/*
Package client provides a Go client library for the Paddock admin API.

The client wraps the admin HTTP API with typed methods for every operator
action: registering nodes and allocations, importing eggs, creating and
transferring servers, power and console control, backups and the audit log.
It is what the paddock CLI uses.

# Architecture

	┌──────────────────── APPLICATION CODE ────────────────────┐
	│  c, err := client.NewClient("panel:8080", apiKey)        │
	│  server, err := c.CreateServer(api.CreateServerRequest{}) │
	└──────────────────┬───────────────────────────────────────┘
	                   │
	┌──────────────────▼──── pkg/client ───────────────────────┐
	│  - Bearer API key on every request                        │
	│  - JSON request and response bodies                       │
	│  - 10s deadline per call                                  │
	│  - GETs retried on transport errors (retry-go)            │
	└──────────────────┬───────────────────────────────────────┘
	                   │ HTTP /api/admin
	                   ▼
	              control plane

# Errors

A non-2xx response is returned as *APIError carrying the status code and
the error message from the response body. API errors are never retried.
IsNotFound checks for a 404.

# Usage

	c, err := client.NewClient("127.0.0.1:8080", os.Getenv("PADDOCK_API_KEY"))
	if err != nil {
		return err
	}

	node, err := c.CreateNode(api.CreateNodeRequest{
		Name:         "fra-1",
		FQDN:         "fra-1.example.com",
		DaemonListen: 8080,
		Memory:       32768,
		Disk:         512000,
	})
	if err != nil {
		return err
	}
	fmt.Println("daemon token:", node.TokenID+"."+node.Token)

	if _, err := c.CreateAllocations(node.Node.ID, "203.0.113.10", []int{25565, 25566}, ""); err != nil {
		return err
	}
*/
package client
