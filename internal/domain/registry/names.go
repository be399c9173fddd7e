package registry

import (
	"fmt"
	"math/rand"
)

// Legacy clients never present credentials, so the server hands each one a
// readable name at admission time.
var (
	nameAdjectives = []string{
		"amber", "brisk", "calm", "dusty", "eager", "fuzzy", "gentle",
		"hasty", "ivory", "jolly", "keen", "lively", "mellow", "nimble",
		"quiet", "rusty", "silent", "tidy", "vivid", "witty",
	}
	nameNouns = []string{
		"badger", "crane", "dingo", "egret", "ferret", "gopher", "heron",
		"ibis", "jackal", "koala", "lemur", "marmot", "newt", "otter",
		"puffin", "quail", "raven", "stoat", "tapir", "walrus",
	}
)

// generateNameLocked picks a name not currently assigned to any legacy
// connection. Caller holds legMu. With the pool capped well below the name
// space a handful of retries always suffices; the numbered fallback keeps the
// guarantee unconditional.
func (r *Registry) generateNameLocked() string {
	for attempt := 0; attempt < 16; attempt++ {
		name := fmt.Sprintf("%s-%s-%02d",
			nameAdjectives[rand.Intn(len(nameAdjectives))],
			nameNouns[rand.Intn(len(nameNouns))],
			rand.Intn(100),
		)
		if _, taken := r.legacyNames[name]; !taken {
			return name
		}
	}
	for i := 0; ; i++ {
		name := fmt.Sprintf("guest-%04d", i)
		if _, taken := r.legacyNames[name]; !taken {
			return name
		}
	}
}
