// Package audithook is a shardlease extension that turns ownership and
// membership events into structured audit events.
//
// Every lease and membership hook emits an [AuditEvent] through the
// [Recorder] interface. Severity follows the event: info for acquire,
// release and size changes, warning for a lost lease, critical for a
// failing heartbeat watcher.
//
// # Usage
//
//	eng, _ := engine.New(s,
//	    engine.WithExtension(audithook.New(audithook.RecorderFunc(
//	        func(ctx context.Context, evt *audithook.AuditEvent) error {
//	            return auditLog.Write(ctx, evt)
//	        },
//	    ))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionLeaseLost,
//	        audithook.ActionHeartbeatFailed,
//	    ),
//	)
package audithook
