/*
Package transfer moves a server from one node to another.

A transfer has a synchronous half and an asynchronous half.

Start runs the synchronous half:

 1. validate: the server exists, is not mid-operation, has no pending
    transfer, and the target differs from its current node
 2. check the target node's memory and disk capacity
 3. reserve the destination allocations in one conditional write
 4. record a pending transfer (conditional on there being no other)
 5. ask the destination daemon to pull the server from the source,
    authorized by a token signed with the source node's secret

If anything fails after step 3 the reservation is released and the
transfer is marked failed before the error is returned. The server row is
never touched by Start.

Complete and Fail run the asynchronous half when the destination daemon
reports back. Complete atomically moves the server to the destination node
and allocation and releases the source allocations. Fail releases the
destination allocations and leaves the server where it was.
*/
package transfer
