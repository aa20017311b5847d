package ingest

import "testing"

func TestSentenceBoundariesBasic(t *testing.T) {
	text := "First sentence. Second one. Third here."
	got := sentenceBoundaries(text)
	want := []int{16, 28}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("boundary %d: got %d, want %d", i, got[i], want[i])
		}
	}
	// Cutting at a boundary must land on the sentence start.
	if text[got[0]:got[0]+6] != "Second" {
		t.Errorf("boundary does not start a sentence: %q", text[got[0]:])
	}
}

func TestSentenceBoundariesAbbreviations(t *testing.T) {
	if got := sentenceBoundaries("Dr. Smith arrived."); len(got) != 0 {
		t.Errorf("abbreviation treated as boundary: %v", got)
	}
	if got := sentenceBoundaries("Pi is 3.14 roughly."); len(got) != 0 {
		t.Errorf("decimal treated as boundary: %v", got)
	}
}

func TestSentenceBoundariesCJK(t *testing.T) {
	text := "你好。世界！"
	got := sentenceBoundaries(text)
	if len(got) != 1 {
		t.Fatalf("got %v", got)
	}
	if text[got[0]:] != "世界！" {
		t.Errorf("boundary at %d splits wrong: %q", got[0], text[got[0]:])
	}
}

func TestSentenceBoundariesNoEndOfText(t *testing.T) {
	got := sentenceBoundaries("Only one sentence here.")
	if len(got) != 0 {
		t.Errorf("end of text is not a boundary: %v", got)
	}
}

func TestWordBoundaries(t *testing.T) {
	text := "one two three"
	got := wordBoundaries(text, 0, len(text))
	want := []int{4, 8}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBoundariesWithin(t *testing.T) {
	all := []int{5, 10, 15, 20}
	got := boundariesWithin(all, 5, 20)
	// Strictly inside: endpoints excluded.
	if len(got) != 2 || got[0] != 10 || got[1] != 15 {
		t.Errorf("got %v", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	if n := EstimateTokens(""); n != 0 {
		t.Errorf("empty = %d", n)
	}
	if n := EstimateTokens("word"); n != 1 {
		t.Errorf("single word = %d", n)
	}
	// 100 words at 1.33 tokens each.
	text := ""
	for i := 0; i < 100; i++ {
		text += "w "
	}
	if n := EstimateTokens(text); n != 133 {
		t.Errorf("100 words = %d, want 133", n)
	}
}

func TestParagraphBoundaries(t *testing.T) {
	text := "First para.\n\nSecond para.\n\n\nThird."
	got := paragraphBoundaries(text)
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
	if text[got[0]:got[0]+6] != "Second" {
		t.Errorf("first cut at %d: %q", got[0], text[got[0]:])
	}
	if text[got[1]:got[1]+5] != "Third" {
		t.Errorf("second cut at %d: %q", got[1], text[got[1]:])
	}
}
