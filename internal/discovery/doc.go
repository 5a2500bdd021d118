// ABOUTME: Package discovery lets agents find the hub on the local network
// ABOUTME: without a configured URL

// Package discovery exchanges small JSON beacons over UDP multicast.
package discovery
