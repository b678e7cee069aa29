package pagerange

import (
	"errors"
	"math/rand"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":            "",
		"3-6,8-10":    "1-4,6-8",
		"7-7":         "1",
		"5,7,9":       "1,3,5",
		"10-12,3-6,8": "1-4,6,8-10",
		"4, 2 - 3,4":  "1-3",
		"1-3,5,7-9":   "1-3,5,7-9",
	}
	for in, want := range cases {
		got, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEncode(t *testing.T) {
	if got := Encode([]int{1, 2, 3, 5, 7, 8, 9}); got != "1-3,5,7-9" {
		t.Fatalf("unexpected encoding %q", got)
	}
	if got := Encode(nil); got != "" {
		t.Fatalf("expected empty encoding, got %q", got)
	}
}

func TestParseEmptySelectsAll(t *testing.T) {
	got, err := Parse("", 4)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(got, []int{0, 1, 2, 3}) {
		t.Fatalf("unexpected indices %v", got)
	}
}

func TestParseOverlappingOutOfOrder(t *testing.T) {
	got, err := Parse("8,3-6,5-8", 10)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []int{2, 3, 4, 5, 6, 7}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, expr := range []string{"2-1", "a", "1-", "-3", "1-2-3", "1,,2", "0", "3-x"} {
		_, err := Parse(expr, 10)
		var rfe *RangeFormatError
		if !errors.As(err, &rfe) {
			t.Fatalf("Parse(%q) expected RangeFormatError, got %v", expr, err)
		}
	}
}

func TestParseRejectsPagesPastEnd(t *testing.T) {
	_, err := Parse("9-11", 10)
	var rfe *RangeFormatError
	if !errors.As(err, &rfe) {
		t.Fatalf("expected RangeFormatError, got %v", err)
	}
	if _, err := Parse("9-11", 0); err != nil {
		t.Fatalf("unbounded parse should accept any page: %v", err)
	}
}

func TestParseRejectsHugeSpansWithoutExpanding(t *testing.T) {
	exprs := []string{
		"9223372036854775806-9223372036854775807",
		"1-9223372036854775807",
		"1-30000000",
		"2,5-30000000",
	}
	for _, total := range []int{10, 0} {
		for _, expr := range exprs {
			start := time.Now()
			_, err := Parse(expr, total)
			elapsed := time.Since(start)

			var rfe *RangeFormatError
			if !errors.As(err, &rfe) {
				t.Fatalf("Parse(%q, %d) expected RangeFormatError, got %v", expr, total, err)
			}
			if elapsed > 100*time.Millisecond {
				t.Fatalf("Parse(%q, %d) took %s", expr, total, elapsed)
			}
		}
	}
}

func TestPagesBoundedByMaxPage(t *testing.T) {
	got, err := Normalize(strconv.Itoa(MaxPage-1) + "-" + strconv.Itoa(MaxPage))
	if err != nil || got != "1-2" {
		t.Fatalf("expected 1-2, got %q err=%v", got, err)
	}
	for _, expr := range []string{
		"1-" + strconv.Itoa(MaxPage+1),
		"9223372036854775807",
		"9223372036854775806-9223372036854775807",
	} {
		var rfe *RangeFormatError
		if _, err := Normalize(expr); !errors.As(err, &rfe) {
			t.Fatalf("Normalize(%q) expected RangeFormatError, got %v", expr, err)
		}
	}
	if _, err := Pages("99999999999999999999"); err == nil {
		t.Fatalf("expected overflowing integer to be rejected")
	}
}

func randomExpr(r *rand.Rand) string {
	n := 1 + r.Intn(5)
	tokens := make([]string, 0, n)
	for i := 0; i < n; i++ {
		a := 1 + r.Intn(MaxPage-200)
		if r.Intn(2) == 0 {
			tokens = append(tokens, strconv.Itoa(a))
			continue
		}
		tokens = append(tokens, strconv.Itoa(a)+"-"+strconv.Itoa(a+r.Intn(200)))
	}
	return strings.Join(tokens, ",")
}

func TestNormalizeProperties(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		expr := randomExpr(r)

		once, err := Normalize(expr)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", expr, err)
		}
		twice, err := Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", once, err)
		}
		if once != twice {
			t.Fatalf("not idempotent for %q: %q then %q", expr, once, twice)
		}

		orig, _ := Pages(expr)
		got, _ := Pages(once)
		shift := 1 - orig[0]
		want := make([]int, len(orig))
		for j, p := range orig {
			want[j] = p + shift
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("positions of %q: got %v want %v", expr, got, want)
		}
	}
}
