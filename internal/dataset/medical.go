package dataset

import "github.com/shardsafe/kanon-engine/internal/hierarchy"

// MedicalAttributes lists the columns of the stroke-registry dataset. The
// first column is the contributing center and is redacted before any row
// leaves a party.
var MedicalAttributes = []string{
	"Center", "Age", "Sex", "Pre-mRS", "NIHSS_AD", "Thrombozyten_Aggregationshemmung",
	"Antikoorgulation", "Hypertonus", "Dm", "VHF", "Smoking", "Occluded_vessel_ACI",
	"Occluded_vessel_MCA", "ASPECTS", "Additional_IVT", "Final_TICI_Score", "NIHSS_24h",
	"mRS_Discharge", "In-hospital_death", "mRS_90-days",
}

const (
	MedicalAgeIndex = 1
	MedicalSexIndex = 2
)

// MedicalAttributeTrees returns the QID hierarchies of the medical dataset:
// age and sex.
func MedicalAttributeTrees() hierarchy.AttributeTrees {
	return hierarchy.AttributeTrees{
		MedicalAgeIndex: medicalAgeTree(),
		MedicalSexIndex: medicalSexTree(),
	}
}

func medicalSexTree() *hierarchy.Node {
	root := hierarchy.NewNumerical(1, 2)
	root.AddChild(hierarchy.NewNumerical(1, 1))
	root.AddChild(hierarchy.NewNumerical(2, 2))
	return root
}

// medicalAgeTree builds the age hierarchy over [1, 119]. The upper levels
// follow the registry's clinically motivated cut points (the bulk of stroke
// patients falls into 66–87, so splits are dense there); below those the
// ranges subdivide by balanced halving down to single years, except 100–119,
// which stays a single leaf.
func medicalAgeTree() *hierarchy.Node {
	cut := func(min, max int64, children ...*hierarchy.Node) *hierarchy.Node {
		return hierarchy.NewNumerical(min, max, children...)
	}
	balanced := hierarchy.CreateBalancedNumerical

	return cut(1, 119,
		cut(1, 76,
			cut(1, 65,
				cut(1, 57,
					balanced(1, 30),
					balanced(31, 50),
					balanced(51, 57),
				),
				balanced(58, 65),
			),
			cut(66, 76,
				balanced(66, 72),
				balanced(73, 76),
			),
		),
		cut(77, 119,
			balanced(77, 82),
			cut(83, 119,
				balanced(83, 87),
				cut(88, 119,
					balanced(88, 91),
					balanced(92, 99),
					cut(100, 119),
				),
			),
		),
	)
}
