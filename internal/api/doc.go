// Package api implements the HTTP handlers for the media pipeline: video
// uploads, playback lookups, watch sessions, engagement, trending, and push
// subscriptions.
package api
