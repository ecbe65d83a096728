package stage

// Resolve expands requested with every stage its members structurally
// depend on. Each input key that is not in the initial context pulls in
// the latest earlier stage that writes it. The result is closed under this
// rule, so Resolve(Resolve(m)) == Resolve(m).
func (r *Registry) Resolve(requested Mask) Mask {
	enabled := requested & All
	// Walking backwards visits each stage after everything that depends on it.
	for id := numStages; id > 0; id-- {
		cur := id - 1
		if !enabled.Has(cur) {
			continue
		}
		for _, in := range r.specs[cur].Inputs {
			if r.isInitial(in) {
				continue
			}
			if p, ok := r.Producer(in, cur); ok {
				enabled = enabled.With(p)
			}
		}
	}
	return enabled
}

// Missing returns the stages in m whose inputs are not satisfied by the
// initial context or by an earlier member of m, with the first unmet key
// for each.
func (r *Registry) Missing(m Mask) map[ID]string {
	missing := make(map[ID]string)
	available := make(map[string]bool)
	for _, k := range r.initial {
		available[k] = true
	}
	for _, id := range m.IDs() {
		s := r.specs[id]
		for _, in := range s.Inputs {
			if !available[in] {
				missing[id] = in
				break
			}
		}
		for _, out := range s.Outputs {
			available[out] = true
		}
	}
	return missing
}
