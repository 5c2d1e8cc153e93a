/*
Package scheduler decides whether a node can take a server and, for new
servers, which node should.

Capacity is checked against a node's configured memory and disk adjusted
by its overallocation percentage:

	limit = capacity * (1 + overallocate/100)

An overallocation of -1 means unlimited. A server's committed usage is its
memory and disk limits; a node's committed usage is the sum over every
server placed on it.

SelectNode favours the node running the fewest servers among those with
enough room and a free allocation.
*/
package scheduler
