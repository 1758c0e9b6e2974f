// Package keys is the single naming authority for every Redis key the
// matchmaking engine touches. Queue names, session records, wait-time
// bookkeeping and the AI membership set are all derived here so that the
// pairing path and the fallback scheduler can never disagree about a name.
package keys

// Declared genders and desired-partner filters. FilterAny matches either
// declared gender.
const (
	GenderMale   = "M"
	GenderFemale = "F"
	FilterAny    = "any"
)

// AISentinel is the reserved partner identifier for the synthetic
// conversational partner. It is stored directly in session records, so it
// must never collide with a real user id.
const AISentinel = "AI"

// Key prefixes and fixed key names.
const (
	queuePrefix     = "queue:"
	sessionPrefix   = "chat:"
	userQueuePrefix = "user_queue:"
	prefsPrefix     = "user_prefs:"
	aiContextPrefix = "ai_context:"

	// WaitTimes is the hash of user id -> unix join timestamp for every
	// queued user, shared by the queue manager and the fallback scheduler.
	WaitTimes = "queue_times"

	// AIMembers is the set of user ids currently paired with the AI sentinel.
	AIMembers = "ai_chats"
)

// Genders returns the declared genders a user may register with.
func Genders() []string {
	return []string{GenderMale, GenderFemale}
}

// Filters returns the valid desired-partner filters.
func Filters() []string {
	return []string{GenderMale, GenderFemale, FilterAny}
}

// ValidGender reports whether g is a declared gender the engine accepts.
func ValidGender(g string) bool {
	return g == GenderMale || g == GenderFemale
}

// ValidFilter reports whether f is a valid desired-partner filter.
func ValidFilter(f string) bool {
	return f == GenderMale || f == GenderFemale || f == FilterAny
}

// Queue returns the list key for users declaring gender g who want partners
// matching filter f.
func Queue(gender, filter string) string {
	return queuePrefix + gender + ":" + filter
}

// AllQueues enumerates every queue key the engine can create. The fallback
// scheduler walks this set, so a queue that exists here is guaranteed to be
// visible to promotion.
func AllQueues() []string {
	queues := make([]string, 0, len(Genders())*len(Filters()))
	for _, g := range Genders() {
		for _, f := range Filters() {
			queues = append(queues, Queue(g, f))
		}
	}
	return queues
}

// Session returns the directed session record key for a user.
func Session(userID string) string {
	return sessionPrefix + userID
}

// UserQueue returns the key recording which queue a waiting user occupies.
func UserQueue(userID string) string {
	return userQueuePrefix + userID
}

// Prefs returns the preference-cache hash key for a user.
func Prefs(userID string) string {
	return prefsPrefix + userID
}

// AIContext returns the list key holding a user's synthetic-partner
// conversation history.
func AIContext(userID string) string {
	return aiContextPrefix + userID
}
