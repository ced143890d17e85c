package serial

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
)

func collect(t *testing.T, f *Framer, chunk string) []string {
	t.Helper()
	seq, err := f.Feed([]byte(chunk))
	if err != nil {
		t.Fatalf("Feed(%q): %v", chunk, err)
	}
	var out []string
	for line := range seq {
		out = append(out, line)
	}
	return out
}

func TestFramerSplitsLines(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []string
		want    []string
		pending string
	}{
		{
			name:   "single line",
			chunks: []string{"OK\n"},
			want:   []string{"OK"},
		},
		{
			name:   "crlf and blank lines",
			chunks: []string{"OK\r\n\r\n  \nCFG:{}\r\n"},
			want:   []string{"OK", "CFG:{}"},
		},
		{
			name:    "partial kept",
			chunks:  []string{"OK\nCF", "G:1"},
			want:    []string{"OK"},
			pending: "CFG:1",
		},
		{
			name:   "line split across three reads",
			chunks: []string{"he", "ll", "o\nworld\n"},
			want:   []string{"hello", "world"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer(0)
			var got []string
			for _, c := range tt.chunks {
				got = append(got, collect(t, f, c)...)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("lines = %q, want %q", got, tt.want)
			}
			if p := string(f.Pending()); p != tt.pending {
				t.Errorf("pending = %q, want %q", p, tt.pending)
			}
		})
	}
}

func TestFramerLossless(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	for round := 0; round < 200; round++ {
		var b strings.Builder
		nLines := rng.IntN(8)
		for i := 0; i < nLines; i++ {
			n := 1 + rng.IntN(20)
			for j := 0; j < n; j++ {
				b.WriteByte(byte('a' + rng.IntN(26)))
			}
			b.WriteByte('\n')
		}
		for j := rng.IntN(5); j > 0; j-- {
			b.WriteByte('z')
		}
		input := b.String()

		f := NewFramer(0)
		var rebuilt strings.Builder
		rest := input
		for len(rest) > 0 {
			n := 1 + rng.IntN(len(rest))
			for _, line := range collect(t, f, rest[:n]) {
				rebuilt.WriteString(line)
				rebuilt.WriteByte('\n')
			}
			rest = rest[n:]
		}
		rebuilt.Write(f.Pending())
		if rebuilt.String() != input {
			t.Fatalf("round %d: rebuilt %q, want %q", round, rebuilt.String(), input)
		}
	}
}

func TestFramerLazyKeepsUnconsumed(t *testing.T) {
	f := NewFramer(0)
	seq, err := f.Feed([]byte("a\nb\nc\n"))
	if err != nil {
		t.Fatal(err)
	}
	for line := range seq {
		if line != "a" {
			t.Fatalf("first line = %q", line)
		}
		break
	}
	if got := collect(t, f, ""); strings.Join(got, ",") != "b,c" {
		t.Errorf("remaining lines = %q, want [b c]", got)
	}
}

func TestFramerOverflow(t *testing.T) {
	f := NewFramer(8)
	if got := collect(t, f, "12345678\n1234"); len(got) != 1 {
		t.Fatalf("lines = %q", got)
	}
	_, err := f.Feed([]byte("56789"))
	if !errors.Is(err, ErrFramingOverflow) {
		t.Fatalf("err = %v, want ErrFramingOverflow", err)
	}
	if len(f.Pending()) != 0 {
		t.Error("overflow must discard the buffer")
	}
	if got := collect(t, f, "OK\n"); len(got) != 1 || got[0] != "OK" {
		t.Errorf("after overflow lines = %q", got)
	}
}
