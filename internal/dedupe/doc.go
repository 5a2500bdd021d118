// Package dedupe drops repeated agent notifications. An agent retries a
// notification with the same ID when its first attempt may have been lost;
// the hub asks the Window whether it has already handled that ID.
package dedupe
