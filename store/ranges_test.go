package store

import (
	"reflect"
	"testing"
)

func TestUIDRangeContains(t *testing.T) {
	cases := []struct {
		r    UIDRange
		u    UID
		want bool
	}{
		{AllUIDs(), 1, true},
		{AllUIDs(), 9999, true},
		{OneUID(5), 5, true},
		{OneUID(5), 6, false},
		{FromUID(5), 5, true},
		{FromUID(5), 4, false},
		{FromUID(5), 100, true},
		{BetweenUIDs(5, 10), 4, false},
		{BetweenUIDs(5, 10), 5, true},
		{BetweenUIDs(5, 10), 10, true},
		{BetweenUIDs(5, 10), 11, false},
	}
	for _, c := range cases {
		if got := c.r.Contains(c.u); got != c.want {
			t.Errorf("%+v.Contains(%d) = %v, want %v", c.r, c.u, got, c.want)
		}
	}
}

func TestCoalesceUIDs(t *testing.T) {
	cases := []struct {
		in   []UID
		want []UIDRange
	}{
		{nil, nil},
		{[]UID{1}, []UIDRange{BetweenUIDs(1, 1)}},
		{[]UID{1, 2, 3}, []UIDRange{BetweenUIDs(1, 3)}},
		{[]UID{1, 2, 4, 5, 7}, []UIDRange{BetweenUIDs(1, 2), BetweenUIDs(4, 5), BetweenUIDs(7, 7)}},
	}
	for _, c := range cases {
		got := coalesceUIDs(c.in)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("coalesceUIDs(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestModSeqClientRoundtrip(t *testing.T) {
	if ModSeq(0).Client() != 1 {
		t.Fatalf("zero ModSeq must present as 1 to clients")
	}
	if ModSeqFromClient(1) != 0 {
		t.Fatalf("client-visible 1 must translate back to the internal zero sentinel")
	}
	for _, v := range []ModSeq{2, 3, 1000} {
		if ModSeqFromClient(v.Client()) != v {
			t.Errorf("ModSeq %d did not round-trip through Client/ModSeqFromClient", v)
		}
	}
}
