package store

import "testing"

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func TestFlagsSet(t *testing.T) {
	f := Flags{Seen: true}
	f2 := f.Set(Flags{Flagged: true, Deleted: true}, true)
	if !f2.Seen || !f2.Flagged || !f2.Deleted {
		t.Fatalf("Set(true) did not add flags: %+v", f2)
	}
	f3 := f2.Set(Flags{Flagged: true}, false)
	if f3.Flagged {
		t.Fatalf("Set(false) did not remove flag: %+v", f3)
	}
	if !f3.Seen || !f3.Deleted {
		t.Fatalf("Set(false) touched flags outside its mask: %+v", f3)
	}
}

func TestFlagsHas(t *testing.T) {
	f := Flags{Seen: true, Deleted: true}
	if !f.Has(FlagSeen) || !f.Has(FlagDeleted) {
		t.Fatalf("Has missed a set flag: %+v", f)
	}
	if f.Has(FlagFlagged) {
		t.Fatalf("Has reported an unset flag as set: %+v", f)
	}
	if f.Has(FlagRecent) {
		t.Fatalf("Has(FlagRecent) must always be false: %+v", f)
	}
}

func TestMergeKeywords(t *testing.T) {
	cur := []string{"$label1"}
	out, changed := MergeKeywords(cur, []string{"$label1", "$label2"})
	if !changed {
		t.Fatalf("MergeKeywords reported no change when one was added")
	}
	if len(out) != 2 || out[0] != "$label1" || out[1] != "$label2" {
		t.Fatalf("unexpected merge result: %v", out)
	}

	out2, changed2 := MergeKeywords(out, []string{"$label1"})
	if changed2 {
		t.Fatalf("MergeKeywords reported a change for an already-present keyword")
	}
	if len(out2) != 2 {
		t.Fatalf("MergeKeywords duplicated a keyword: %v", out2)
	}
}

func TestRemoveKeywords(t *testing.T) {
	cur := []string{"$label1", "$label2", "$label3"}
	out := RemoveKeywords(cur, []string{"$label2"})
	if len(out) != 2 || out[0] != "$label1" || out[1] != "$label3" {
		t.Fatalf("unexpected remove result: %v", out)
	}
	if len(RemoveKeywords(cur, nil)) != 3 {
		t.Fatalf("RemoveKeywords with nothing to remove should return cur unchanged")
	}
}

func TestSameKeywords(t *testing.T) {
	if !sameKeywords([]string{"a", "b"}, []string{"b", "a"}) {
		t.Fatalf("sameKeywords should ignore order")
	}
	if sameKeywords([]string{"a"}, []string{"a", "b"}) {
		t.Fatalf("sameKeywords should report different lengths as different")
	}
}
