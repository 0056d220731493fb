package ports

// TransportSession is a single connected participant's transport,
// independent of how the bytes move (WebRTC data channels today, anything
// datagram-capable tomorrow). All methods are safe for concurrent use.
// Send methods report failure synchronously but may buffer internally.
type TransportSession interface {
	// SendDatagram sends one unreliable audio datagram.
	SendDatagram(data []byte) bool

	// SendReliable sends a reliable control message (JSON text).
	SendReliable(message string) bool

	// Close tears the session down.
	Close()

	// ID returns the transport-assigned session ID.
	ID() string

	// RemoteAddress returns the remote address, for rate limiting and logs.
	RemoteAddress() string

	// IsConnected reports whether the session is still usable.
	IsConnected() bool
}

// TransportCallbacks is what the core hands to a transport so events flow
// back in. A transport invokes these from its own receive goroutines.
type TransportCallbacks interface {
	OnSessionOpen(session TransportSession)
	OnMessage(session TransportSession, message string)
	OnDatagram(session TransportSession, data []byte)
	OnSessionClose(session TransportSession)
}

