// Package match implements the waiting pool and the compatibility rules that
// decide which two anonymous participants get paired. The pool holds one
// entry per live connection; matching scans in insertion order so nobody
// starves behind newer arrivals.
package match

import "time"

// GenderAny and CountryAny are the wildcard sentinels a participant sends
// when they have no preference. An empty string in a filter is normalised to
// the wildcard at the wire boundary, never here.
const (
	GenderAny  = "any"
	CountryAny = "any"
)

// Profile is the display snapshot a participant shares with their partner.
// It is forwarded verbatim in the matched event and never persisted.
type Profile struct {
	DisplayName string `json:"displayName"`
	Age         int    `json:"age"`
	Gender      string `json:"gender"`
	CountryCode string `json:"countryCode"`
}

// Criteria is what a participant is looking for. Language is carried for
// display purposes but is not a hard filter.
type Criteria struct {
	Gender   string `json:"gender"`
	Country  string `json:"country"`
	Language string `json:"language"`
	AgeMin   int    `json:"ageMin"`
	AgeMax   int    `json:"ageMax"`
}

// Participant is one live connection looking for (or in) a session. The
// Handle is the connection ID assigned by the transport; UserID is optional
// and opaque to this package.
type Participant struct {
	Handle   string
	UserID   string
	Profile  Profile
	Criteria Criteria
	JoinedAt time.Time
}
