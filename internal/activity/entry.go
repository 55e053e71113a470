package activity

import "time"

const defaultIcon = "Activity"

// Entry is a single item of an activity feed. Entries are values and are
// never modified after they are pushed.
type Entry struct {
	Seq    uint64    `json:"seq"`
	Action string    `json:"action"`
	Time   time.Time `json:"time"`
	Icon   string    `json:"icon"`
	Color  string    `json:"color,omitempty"`
	User   string    `json:"user,omitempty"`
}

// NewEntry builds an entry stamped with seq and now. An empty icon falls
// back to the generic activity icon.
func NewEntry(seq uint64, now time.Time, action, icon, color, user string) Entry {
	if icon == "" {
		icon = defaultIcon
	}
	return Entry{
		Seq:    seq,
		Action: action,
		Time:   now.UTC(),
		Icon:   icon,
		Color:  color,
		User:   user,
	}
}
