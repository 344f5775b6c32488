package moderation

// Lists holds the global keyword lists the engine scans for. They are
// injected at construction so deployments can update or localize them
// without touching engine logic.
type Lists struct {
	CrisisTerms         []string
	InappropriateTerms  []string
	ProtectedCharacters []string
}

// DefaultLists returns the built-in English lists.
func DefaultLists() Lists {
	return Lists{
		CrisisTerms: []string{
			"suicide", "kill myself", "self-harm", "hurt myself", "depressed",
			"anxiety", "panic attack", "crisis", "emergency",
		},
		InappropriateTerms: []string{
			"violence", "kill", "death", "suicide", "self-harm", "drugs",
			"alcohol", "weapons", "adult", "sexual", "explicit", "hate",
			"racist", "bullying",
		},
		ProtectedCharacters: []string{
			"bluey", "mickey mouse", "minnie mouse", "elsa", "anna", "frozen",
			"spider-man", "batman", "superman", "disney", "marvel", "pixar",
		},
	}
}
