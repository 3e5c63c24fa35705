package memory

// Policy describes how facts enter and leave a memory system.
//
// HasStaging systems write machine-extracted facts into a pending inbox that
// a person must approve before the facts influence mounted context. Systems
// without staging write straight into the approved bank; AutoTag, when set,
// marks those machine-originated facts so they can be told apart from manual
// entries later.
type Policy struct {
	Name       string
	HasStaging bool
	AutoTag    string
}

var policies = []Policy{
	{Name: "opaque"},
	{Name: "user_controlled", HasStaging: true},
	{Name: "hybrid", AutoTag: "auto"},
}

// Policies returns all supported memory policies.
func Policies() []Policy {
	out := make([]Policy, len(policies))
	copy(out, policies)
	return out
}

// PolicyByName returns the policy with the given name.
func PolicyByName(name string) (Policy, bool) {
	for _, p := range policies {
		if p.Name == name {
			return p, true
		}
	}
	return Policy{}, false
}

// BankCollection is the collection holding approved facts for this policy.
func (p Policy) BankCollection() string {
	return p.Name + "_bank"
}

// InboxCollection is the collection holding pending facts. Only meaningful
// when HasStaging is true.
func (p Policy) InboxCollection() string {
	return p.Name + "_inbox"
}

// AllCollections lists every collection any policy uses. Migrators iterate
// this to provision storage.
func AllCollections() []string {
	var out []string
	for _, p := range policies {
		out = append(out, p.BankCollection())
		if p.HasStaging {
			out = append(out, p.InboxCollection())
		}
	}
	return out
}
