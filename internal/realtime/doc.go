// Package realtime is the websocket core of the social backend: the
// connection registry, presence, live-event rosters, event chat and direct
// message delivery. Frames are JSON objects of the form {"event", "data"}.
package realtime
