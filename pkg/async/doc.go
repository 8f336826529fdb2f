// Package async provides safe concurrent execution primitives for background
// tasks.
//
// SafeGo runs a function in a goroutine with panic recovery, a per-task
// timeout, and structured error logging. Batch fans a slice of items out over
// a bounded worker pool and collects the errors. Both exist so that
// fire-and-forget work (usage collection across tenants, alert delivery)
// cannot crash the process or leak goroutines.
package async
