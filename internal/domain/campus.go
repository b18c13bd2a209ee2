package domain

import "strings"

// AllCampuses is the scope sentinel meaning no specific campus was named.
const AllCampuses = "All"

// Campuses is the fixed list of campus identifiers known to the vector index,
// in retrieval order.
var Campuses = []string{
	"UT_Arlington",
	"UT_Austin",
	"UT_Dallas",
	"UT_El_Paso",
	"UT_Health_Houston",
	"UT_Health_San_Antonio",
	"UT_Health_Science_Center_Tyler",
	"UT_MD_Anderson",
	"UT_Medical_Branch_Galveston",
	"UT_Permian_Basin",
	"UT_Rio_Grande_Valley",
	"UT_San_Antonio",
	"UT_Southwestern",
	"UT_Tyler",
}

// CanonicalCampus maps a case-insensitive campus name to its canonical form.
func CanonicalCampus(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, AllCampuses) {
		return AllCampuses, true
	}
	for _, c := range Campuses {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}

// IsAllCampuses reports whether scope is the "all campuses" sentinel.
func IsAllCampuses(scope []string) bool {
	return len(scope) == 1 && scope[0] == AllCampuses
}
