/*
Package provision pushes server lifecycle changes to node daemons.

Trigger covers the synchronous operations:

  - Provision sends the full server configuration to the daemon. A daemon
    failure marks the server install_failed.
  - Reinstall reruns the install script without touching status;
    RequestReinstall wraps it with the installing status and restores the
    previous status on failure.
  - Suspend and Unsuspend write the stored flag first and put it back if
    the daemon call fails, so the flag never disagrees with what was
    attempted.

Runner provisions newly created servers in the background. Each job is
retried with backoff, and only daemon failures are retried.
*/
package provision
