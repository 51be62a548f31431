/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package authenticity

import "fmt"

// ReferenceKey identifies one (set, collectorNumber) entry in the bundled
// reference-hash table (spec.md §4.5 visualHash signal).
type ReferenceKey struct {
	Set             string
	CollectorNumber string
}

func (k ReferenceKey) String() string {
	return fmt.Sprintf("%s#%s", k.Set, k.CollectorNumber)
}

// ReferenceTable maps a (set, number) key to every known-authentic
// perceptual hash on file for that printing (front and back variants,
// reprints, etc. may all differ slightly, hence a slice rather than one
// hash per key).
type ReferenceTable map[string][]uint64

// NewReferenceTable builds a lookup table from a map of entries keyed by ReferenceKey.
func NewReferenceTable(entries map[ReferenceKey][]uint64) ReferenceTable {
	table := make(ReferenceTable, len(entries))
	for k, hashes := range entries {
		table[k.String()] = hashes
	}
	return table
}

// BestMatch returns 1 - (minimum hamming distance / 64) against every hash
// on file for key, and whether any reference existed for that key
// (spec.md §4.5: "absent reference ⇒ 0.5 neutral").
func (t ReferenceTable) BestMatch(key ReferenceKey, hash uint64) (score float64, found bool) {
	hashes, ok := t[key.String()]
	if !ok || len(hashes) == 0 {
		return 0.5, false
	}
	best := 64
	for _, ref := range hashes {
		if d := HammingDistance(hash, ref); d < best {
			best = d
		}
	}
	return 1 - float64(best)/64.0, true
}
