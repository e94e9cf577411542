// Package scheduler decides when each account checks in.
//
// A single goroutine owns a min-heap of tasks ordered by execution time and
// sleeps until the earliest one is due, capped at one minute. Due tasks run
// strictly one after another through the Executor. After every execution,
// successful or not, the account's next eligible time is read back from the
// contract and a fresh task replaces the one that fired, so no account is
// ever dropped. The scheduler keeps at most one pending task per account.
//
// When the queue is empty the loop rescans all accounts every
// RescanInterval. The queue is in-memory only and is rebuilt from the
// contract on startup.
package scheduler
