// Package dedupe remembers recently seen keys for a bounded time window.
package dedupe
