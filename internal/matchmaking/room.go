package matchmaking

import "time"

// Room pairs exactly two users for one conversation.
// Once Active is false the room is history and never changes again.
type Room struct {
	// ID is the memorable identifier shown to both peers.
	ID string `json:"id"`

	// PeerA is the user whose search completed the match. It initiates negotiation.
	PeerA string `json:"peer_a"`

	// PeerB is the user who was already waiting.
	PeerB string `json:"peer_b"`

	CreatedAt time.Time  `json:"created_at"`
	Active    bool       `json:"active"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// EndedBy is the member who closed the room.
	EndedBy string `json:"ended_by,omitempty"`
}

// Has reports whether userID is one of the two peers.
func (r Room) Has(userID string) bool {
	return userID != "" && (r.PeerA == userID || r.PeerB == userID)
}

// Other returns the peer that is not userID.
func (r Room) Other(userID string) (string, bool) {
	switch userID {
	case r.PeerA:
		return r.PeerB, true
	case r.PeerB:
		return r.PeerA, true
	}
	return "", false
}

// Initiator returns the peer that sends the offer.
func (r Room) Initiator() string {
	return r.PeerA
}

// IsInitiator reports whether userID sends the offer in this room.
func (r Room) IsInitiator(userID string) bool {
	return userID != "" && r.PeerA == userID
}
