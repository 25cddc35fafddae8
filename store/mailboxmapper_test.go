package store

import "testing"

func TestWildcardToRegexpPercentStopsAtDelimiter(t *testing.T) {
	re, err := WildcardToRegexp("INBOX.%", '.')
	tcheck(t, err, "compile")
	if !re.MatchString("INBOX.Sent") {
		t.Fatalf("expected INBOX.%% to match INBOX.Sent")
	}
	if re.MatchString("INBOX.Sent.Old") {
		t.Fatalf("expected INBOX.%% not to match across a second delimiter")
	}
}

func TestWildcardToRegexpStarCrossesDelimiter(t *testing.T) {
	re, err := WildcardToRegexp("INBOX.*", '.')
	tcheck(t, err, "compile")
	if !re.MatchString("INBOX.Sent.Old") {
		t.Fatalf("expected INBOX.* to match across multiple delimiters")
	}
}

func TestWildcardToRegexpLiteralMatchesExactly(t *testing.T) {
	re, err := WildcardToRegexp("INBOX", '.')
	tcheck(t, err, "compile")
	if !re.MatchString("INBOX") {
		t.Fatalf("expected literal pattern to match itself")
	}
	if re.MatchString("INBOXX") || re.MatchString("XINBOX") {
		t.Fatalf("expected literal pattern to be anchored at both ends")
	}
}

func TestWildcardToRegexpQuotesSpecialCharacters(t *testing.T) {
	re, err := WildcardToRegexp("a.b+c", '.')
	tcheck(t, err, "compile")
	if !re.MatchString("a.b+c") {
		t.Fatalf("expected '+' in the pattern to be taken literally")
	}
	if re.MatchString("a.bbbc") {
		t.Fatalf("'+' must not behave as a regexp quantifier")
	}
}
