package match

// Compatible reports whether two participants satisfy each other's search
// criteria. The rule is symmetric: Compatible(a, b) == Compatible(b, a).
//
// All of the following must hold:
//   - the requested age ranges overlap,
//   - each side's gender filter accepts the other's profile gender,
//   - each side's country filter accepts the other's profile country.
func Compatible(a, b Participant) bool {
	if !agesOverlap(a.Criteria, b.Criteria) {
		return false
	}
	if !genderAccepts(a.Criteria.Gender, b.Profile.Gender) ||
		!genderAccepts(b.Criteria.Gender, a.Profile.Gender) {
		return false
	}
	if !countryAccepts(a.Criteria.Country, b.Profile.CountryCode) ||
		!countryAccepts(b.Criteria.Country, a.Profile.CountryCode) {
		return false
	}
	return true
}

func agesOverlap(a, b Criteria) bool {
	return a.AgeMin <= b.AgeMax && b.AgeMin <= a.AgeMax
}

// genderAccepts checks one side's filter against the other side's profile.
// An unset profile gender only passes a wildcard filter.
func genderAccepts(wanted, profileGender string) bool {
	if wanted == GenderAny || wanted == "" {
		return true
	}
	return profileGender != "" && wanted == profileGender
}

func countryAccepts(wanted, profileCountry string) bool {
	if wanted == CountryAny || wanted == "" {
		return true
	}
	return profileCountry != "" && wanted == profileCountry
}
