package tgui

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"🟢🟢🟢", 2, "🟢🟢…"},
		{"x", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q,%d)=%q want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestShortAddr(t *testing.T) {
	t.Parallel()

	if got := ShortAddr("0x1234567890abcdef1234"); got != "0x1234...1234" {
		t.Fatalf("got %q", got)
	}
	if got := ShortAddr("abc"); got != "abc" {
		t.Fatalf("got %q", got)
	}
}

func TestLinkEscapes(t *testing.T) {
	t.Parallel()

	got := Link(`a<b>`, `https://x.io/?a=1&b="2"`).String()
	want := `<a href="https://x.io/?a=1&amp;b=&#34;2&#34;">a&lt;b&gt;</a>`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if got := JoinH(" | ", B("x"), "", I("y")).String(); got != "<b>x</b> | <i>y</i>" {
		t.Fatalf("JoinH got %q", got)
	}
}

func TestGrid2(t *testing.T) {
	t.Parallel()

	if Grid2(nil) != nil {
		t.Fatalf("expected nil markup for no buttons")
	}
	rm := Grid2([]tele.Btn{URLBtn("a", "https://a"), URLBtn("b", "https://b"), URLBtn("c", "https://c")})
	if len(rm.InlineKeyboard) != 2 || len(rm.InlineKeyboard[0]) != 2 {
		t.Fatalf("unexpected layout: %+v", rm.InlineKeyboard)
	}
}
