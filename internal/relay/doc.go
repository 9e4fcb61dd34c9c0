// Package relay contains the signaling hub: the connection lifecycle state
// machine (Connected -> Joined -> Left -> ... -> Disconnected) layered over
// the registry, presence notifier and router.
//
// All registry mutations MUST go through the Hub so they are serialized by
// its lock.
package relay
