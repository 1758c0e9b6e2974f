package keys

import "testing"

func TestQueueNames(t *testing.T) {
	if got := Queue(GenderMale, FilterAny); got != "queue:M:any" {
		t.Errorf("unexpected queue key: %s", got)
	}
	if got := Queue(GenderFemale, GenderMale); got != "queue:F:M" {
		t.Errorf("unexpected queue key: %s", got)
	}
}

func TestAllQueues_CoverEveryCombination(t *testing.T) {
	queues := AllQueues()
	if len(queues) != 6 {
		t.Fatalf("expected 6 queues (2 genders x 3 filters), got %d", len(queues))
	}

	seen := make(map[string]bool)
	for _, q := range queues {
		if seen[q] {
			t.Errorf("duplicate queue name: %s", q)
		}
		seen[q] = true
	}

	// Every queue the manager can write must be enumerated, otherwise the
	// fallback scheduler silently skips it.
	for _, g := range Genders() {
		for _, f := range Filters() {
			if !seen[Queue(g, f)] {
				t.Errorf("queue %s missing from AllQueues", Queue(g, f))
			}
		}
	}
}

func TestKeyShapes_DistinctPrefixes(t *testing.T) {
	id := "12345"
	shapes := []string{
		Session(id),
		UserQueue(id),
		Prefs(id),
		AIContext(id),
	}
	seen := make(map[string]bool)
	for _, k := range shapes {
		if seen[k] {
			t.Errorf("key collision for user %s: %s", id, k)
		}
		seen[k] = true
	}
}

func TestValidators(t *testing.T) {
	if !ValidGender(GenderMale) || !ValidGender(GenderFemale) {
		t.Error("declared genders should validate")
	}
	if ValidGender(FilterAny) {
		t.Error("any is not a declared gender")
	}
	if !ValidFilter(FilterAny) || !ValidFilter(GenderMale) {
		t.Error("filters should validate")
	}
	if ValidFilter("X") {
		t.Error("unknown filter should not validate")
	}
}
