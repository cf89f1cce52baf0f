// SPDX-License-Identifier: MIT

package catalog

import "slices"

// merge folds one source proposal into the metadata document. Roles and
// sources are sets, external ids keep the first value a source ever
// reported, and confidence keeps the highest value per source.
func (m *ProducerMeta) merge(in ProducerInput) {
	if in.Role != "" && !slices.Contains(m.Roles, in.Role) {
		m.Roles = append(m.Roles, in.Role)
	}
	if in.Source != "" && !slices.Contains(m.Sources, in.Source) {
		m.Sources = append(m.Sources, in.Source)
	}
	if in.ExternalID != "" && in.Source != "" {
		if m.ExternalIDs == nil {
			m.ExternalIDs = make(map[string]string)
		}
		if _, ok := m.ExternalIDs[in.Source]; !ok {
			m.ExternalIDs[in.Source] = in.ExternalID
		}
	}
	if in.Confidence > 0 && in.Source != "" {
		if m.Confidence == nil {
			m.Confidence = make(map[string]float64)
		}
		if in.Confidence > m.Confidence[in.Source] {
			m.Confidence[in.Source] = in.Confidence
		}
	}
}
