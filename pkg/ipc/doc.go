/*
Package ipc implements the zero-copy, fixed-capacity publish/subscribe
transport between the core process and a single plugin process. Each
Channel is a bidirectional link scoped to one plugin
instance: the core process creates one Channel per PluginInstance, and the
spawned plugin executable (a separate binary per manifest, out of scope
for this repository) opens the matching half over the same
service prefix.

Four named topics flow over a Channel, each backed by its own
single-producer single-consumer ring buffer in a memory-mapped,
file-backed segment under os.TempDir() (one segment file per topic). The transport must cross an exec() process
boundary, which rules out anything backed by Go channels or anonymous
mmap:

	tasks, commands : core    -> plugin
	results, events : plugin  -> core

Every payload is a fixed-size, C-layout-compatible record (see wire.go):
strings and byte vectors are fixed-capacity byte strings, and oversized
content is rejected by the sender rather than fragmented.
*/
package ipc
