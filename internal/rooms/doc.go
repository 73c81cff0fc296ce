// Package rooms fans real-time events out to the websocket clients watching a
// stream.
//
// A Hub tracks which clients are subscribed to which room (one room per
// stream id). Publishes are serialized so every member of a room observes
// events in the order they were published; delivery is best effort and a
// client whose send buffer is full simply misses the event. A RedisRelay can
// be attached to mirror events between instances.
package rooms
