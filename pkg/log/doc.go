/*
Package log provides structured logging for the malbox task-lifecycle engine,
built on zerolog.

Every long-lived component (coordinator, resource manager, plugin manager,
worker) gets its own component-scoped logger via WithComponent, so log lines
can be filtered by subsystem without grepping message text. Init must be
called once at process start, before any component is constructed;
components never reach back into global state after construction.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	logger := log.WithComponent("resource-manager")
	logger.Info().Str("resource_id", id).Msg("allocated")
*/
package log
