/*
Package types defines the core data model of the malbox task-lifecycle
engine: Task, Sample, Resource, PluginManifest and PluginInstance (the IPC
message envelope lives in pkg/ipc). These types are shared by every other package: the
resource manager, the plugin manager, the worker, and the coordinator all
operate on the same structs so there is exactly one definition of "what a
task is" in the process.

# State machines

Task state follows the partial order:

	Pending → Initializing → PreparingResources → Running → (Stopping →) {Completed | Failed | Canceled}

Canceled is reachable from any non-terminal state; terminal states are
final. Resource state follows:

	Provisioning → Available ⇄ Allocated → InUse → Stopping → Stopped → Destroying → Destroyed
	                                                                         ↘ Error(msg) (from any non-terminal state)

Plugin instance state follows:

	Created → Starting → Running → Stopping → Stopped
	                         ↘ Failed (from any non-terminal state)

# Thread safety

Types in this package carry no internal synchronization; callers that share
a *Task, *Resource, or *PluginInstance across goroutines must guard it
themselves (the resource manager and plugin manager do this with
mutex-guarded maps, documented on each component).
*/
package types
