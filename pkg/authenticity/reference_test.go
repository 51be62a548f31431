package authenticity

import "testing"

func TestReferenceTableBestMatchReturnsNeutralWhenAbsent(t *testing.T) {
	table := NewReferenceTable(nil)
	score, found := table.BestMatch(ReferenceKey{Set: "Base Set", CollectorNumber: "4/102"}, 0xABCD)
	if found {
		t.Fatal("expected no reference to be found")
	}
	if score != 0.5 {
		t.Fatalf("expected neutral 0.5 score, got %v", score)
	}
}

func TestReferenceTableBestMatchFindsClosestHash(t *testing.T) {
	key := ReferenceKey{Set: "Base Set", CollectorNumber: "4/102"}
	table := NewReferenceTable(map[ReferenceKey][]uint64{
		key: {0x0F0F0F0F0F0F0F0F, 0x00000000FFFFFFFF},
	})

	score, found := table.BestMatch(key, 0x0F0F0F0F0F0F0F0F)
	if !found {
		t.Fatal("expected a reference to be found")
	}
	if score != 1.0 {
		t.Fatalf("expected an exact match to score 1.0, got %v", score)
	}
}
