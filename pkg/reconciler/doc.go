/*
Package reconciler sweeps the durable resource-allocation ledger for entries
orphaned by a crashed or killed worker.

A Worker is supposed to release every Resource it allocates on every exit
path. If the process is killed outright (not canceled, killed) that
guarantee can't run, and the allocation ledger entry written by the
Resource Manager at allocation time is left pointing at a Resource still
marked Allocated or InUse for a task that will never come back to release
it.

The Reconciler runs a background ticker (default 10s) that lists every
ledger entry and checks its owning task in the store: if the task is
missing entirely, or has already reached a terminal state, the Resource is
released and the ledger entry is dropped.
*/
package reconciler
