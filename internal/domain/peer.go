package domain

// Peer is a remote participant as modeled locally.
// No transport or lifecycle logic here.
type Peer struct {
	ID          PeerID `json:"id"`
	DisplayName string `json:"displayName"`
	HasAudio    bool   `json:"hasAudio"`
	HasVideo    bool   `json:"hasVideo"`
}

// PlaceholderName is used until the server announces the peer's display name.
func PlaceholderName(id PeerID) string {
	s := string(id)
	if len(s) > 8 {
		s = s[:8]
	}
	return "User " + s
}
