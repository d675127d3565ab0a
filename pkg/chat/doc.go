// Package chat runs the real-time side of direct messaging.
//
// Handler authenticates a WebSocket upgrade and starts a Session. A
// Session moves through Connecting, Active, Closing and Closed. While
// Active it runs two pumps: the write pump drains the session's hub
// listener and writes envelopes addressed to its user, the read pump
// decodes client frames and passes commands to the Processor. When either
// pump stops the other is cancelled and the session announces the user's
// departure.
//
// Processor applies commands against the message store and publishes the
// resulting envelopes on the hub. Store writes complete before anything is
// published, so a receiver never sees a message that is not yet stored.
package chat
