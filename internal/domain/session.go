package domain

// Session is the auth/handshake state for one client connection. Challenge is
// single-use and tied to (ClientID, Permalink). Connected and Subscribed are
// updated independently by transport-level events and do not imply
// Authenticated.
type Session struct {
	ClientID  string    `json:"clientId"`
	Permalink Permalink `json:"permalink"`
	Challenge string    `json:"challenge,omitempty"`
	Time      int64     `json:"time"`

	Authenticated bool `json:"authenticated"`
	Connected     bool `json:"connected"`
	Subscribed    bool `json:"subscribed"`

	// ClientPosition is reported by the client at handshake; ServerPosition
	// is snapshotted from the outbound stream when the handshake succeeds,
	// so the client can resume its delivery range from it.
	ClientPosition *Position `json:"clientPosition,omitempty"`
	ServerPosition *Position `json:"serverPosition,omitempty"`
}

// Live reports whether the session can carry live delivery.
func (s *Session) Live() bool {
	return s.Authenticated && s.Connected
}
