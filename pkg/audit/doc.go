/*
Package audit records who did what to which server.

Handlers put an Actor on the request context (a node daemon on the remote
API, an administrator on the admin API). Core packages call
Recorder.Record with an event name such as "server:install.completed"; the
recorder fills in the actor and timestamp and writes to its Sink.

Sinks:

  - StoreSink appends to the replicated store (the authoritative log)
  - PostgresSink mirrors events into Postgres, retrying transient failures
  - MultiSink writes to a primary sink and any number of mirrors
*/
package audit
