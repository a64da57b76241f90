package domain

// Unit is a physical venue. Loaded once per session and never mutated.
type Unit struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// Area is a seating zone within a unit. Remaining is only known once a date and
// time have been chosen; before that only the static metadata is filled.
type Area struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IconGlyph   string `json:"icon,omitempty"`
	PhotoURL    string `json:"photoUrl,omitempty"`
	Capacity    *int   `json:"capacity,omitempty"`
	Remaining   *int   `json:"remaining,omitempty"`
	IsAvailable bool   `json:"isAvailable"`
}

// Left is the number of seats the area can still take: remaining when known,
// static capacity otherwise, zero when neither is known.
func (a Area) Left() int {
	switch {
	case a.Remaining != nil:
		return *a.Remaining
	case a.Capacity != nil:
		return *a.Capacity
	}
	return 0
}

// Fits reports whether a party of n people fits in the area.
func (a Area) Fits(n int) bool { return a.Left() >= n }
