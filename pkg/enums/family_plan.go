package enums

// FamilyPlan is the subscription tier attached to a family.
type FamilyPlan string

const (
	FamilyPlanFree   FamilyPlan = "free"
	FamilyPlanPlus   FamilyPlan = "plus"
	FamilyPlanFamily FamilyPlan = "family"
)

var validFamilyPlans = []FamilyPlan{
	FamilyPlanFree,
	FamilyPlanPlus,
	FamilyPlanFamily,
}

func (p FamilyPlan) String() string {
	return string(p)
}

func (p FamilyPlan) IsValid() bool {
	for _, candidate := range validFamilyPlans {
		if candidate == p {
			return true
		}
	}
	return false
}
