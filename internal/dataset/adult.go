package dataset

import "github.com/shardsafe/kanon-engine/internal/hierarchy"

// AdultAttributes lists the columns of the UCI adult census dataset, with a
// synthetic center column prepended so both datasets share the layout
// "column 0 is the contributing center".
var AdultAttributes = []string{
	"center", "age", "workclass", "fnlwgt", "education", "education-num",
	"marital-status", "occupation", "relationship", "race", "sex",
	"capital-gain", "capital-loss", "hours-per-week", "native-country", "income",
}

const (
	AdultAgeIndex          = 1
	AdultEducationNumIndex = 5
	AdultOccupationIndex   = 7
	AdultRaceIndex         = 9
	AdultSexIndex          = 10
)

// AdultAttributeTrees returns the QID hierarchies of the adult dataset.
func AdultAttributeTrees() hierarchy.AttributeTrees {
	return hierarchy.AttributeTrees{
		AdultAgeIndex:          hierarchy.CreateBalancedNumerical(0, 100),
		AdultEducationNumIndex: hierarchy.CreateBalancedNumerical(0, 16),
		AdultOccupationIndex:   adultOccupationTree(),
		AdultRaceIndex:         adultRaceTree(),
		AdultSexIndex:          adultSexTree(),
	}
}

func adultSexTree() *hierarchy.Node {
	return hierarchy.NewCategorical("ANY",
		hierarchy.NewCategorical("Male"),
		hierarchy.NewCategorical("Female"),
	)
}

func adultRaceTree() *hierarchy.Node {
	return hierarchy.NewCategorical("ANY",
		hierarchy.NewCategorical("White"),
		hierarchy.NewCategorical("Non-White",
			hierarchy.NewCategorical("Asian-Pac-Islander"),
			hierarchy.NewCategorical("Amer-Indian-Eskimo"),
			hierarchy.NewCategorical("Other"),
			hierarchy.NewCategorical("Black"),
		),
	)
}

func adultOccupationTree() *hierarchy.Node {
	return hierarchy.NewCategorical("ANY",
		hierarchy.NewCategorical("Other-service"),
		hierarchy.NewCategorical("technical",
			hierarchy.NewCategorical("Tech-support"),
			hierarchy.NewCategorical("Craft-repair"),
			hierarchy.NewCategorical("Machine-op-inspct"),
		),
		hierarchy.NewCategorical("office",
			hierarchy.NewCategorical("Sales"),
			hierarchy.NewCategorical("Exec-managerial"),
			hierarchy.NewCategorical("Prof-specialty"),
			hierarchy.NewCategorical("Adm-clerical"),
		),
		hierarchy.NewCategorical("logistics",
			hierarchy.NewCategorical("Farming-fishing"),
			hierarchy.NewCategorical("Transport-moving"),
			hierarchy.NewCategorical("Priv-house-serv"),
			hierarchy.NewCategorical("Handlers-cleaners"),
		),
		hierarchy.NewCategorical("protection",
			hierarchy.NewCategorical("Protective-serv"),
			hierarchy.NewCategorical("Armed-Forces"),
		),
	)
}

// TreesFor returns the attribute hierarchies and column names for a dataset
// by name.
func TreesFor(name string) (hierarchy.AttributeTrees, []string, bool) {
	switch name {
	case "medical":
		return MedicalAttributeTrees(), MedicalAttributes, true
	case "adult":
		return AdultAttributeTrees(), AdultAttributes, true
	}
	return nil, nil, false
}
