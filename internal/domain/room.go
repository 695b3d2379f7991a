package domain

type RoomID string

// Room is the membership snapshot the signaling server reports:
// who is in the room "now". Read-only to the call core.
type Room struct {
	ID      RoomID `json:"id"`
	Title   string `json:"title"`
	Members []User `json:"members"`
}

// Others returns the members of the snapshot except the given user.
func (r *Room) Others(current UserID) []User {
	out := make([]User, 0, len(r.Members))
	for _, m := range r.Members {
		if m.ID != current {
			out = append(out, m)
		}
	}
	return out
}
