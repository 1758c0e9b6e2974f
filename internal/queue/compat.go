package queue

import "github.com/driftchat/drift/internal/keys"

// Compatible reports whether two users are mutually compatible: each one's
// desired filter must accept the other's declared gender.
func Compatible(genderA, filterA, genderB, filterB string) bool {
	matchForA := filterA == keys.FilterAny || filterA == genderB
	matchForB := filterB == keys.FilterAny || filterB == genderA
	return matchForA && matchForB
}

// CandidateQueues returns, in scan order, the queues a searcher with the
// given declared gender and desired filter should check: queues whose
// declared gender matches what the searcher wants, and whose own filter
// accepts the searcher's gender. Specific-filter queues come before "any"
// queues so matches bias toward tighter compatibility first.
func CandidateQueues(gender, filter string) []string {
	wanted := keys.Genders()
	if filter != keys.FilterAny {
		wanted = []string{filter}
	}

	queues := make([]string, 0, len(wanted)*2)
	for _, g := range wanted {
		queues = append(queues, keys.Queue(g, gender), keys.Queue(g, keys.FilterAny))
	}
	return queues
}
