package filter

import (
	"reflect"
	"strings"
	"testing"
)

func feedChunked(f *Extract, s string, width int) string {
	var out strings.Builder
	for i := 0; i < len(s); i += width {
		end := i + width
		if end > len(s) {
			end = len(s)
		}
		out.WriteString(f.Feed(s[i:end]))
	}
	return out.String()
}

func TestExtractEnumerated(t *testing.T) {
	sample := "<output>1</output>\n\n\t<output>and 2</output>"

	f := NewExtract("<output>", "</output>", true)
	got := feedChunked(f, sample, 3)

	if want := "1. 1\n\n2. and 2"; got != want {
		t.Errorf("visible = %q, want %q", got, want)
	}
	if want := []string{"1", "and 2"}; !reflect.DeepEqual(f.Outputs(), want) {
		t.Errorf("outputs = %v, want %v", f.Outputs(), want)
	}
}

func TestExtractChunkInvariance(t *testing.T) {
	sample := "head<output>alpha</output>mid<output>beta\ngamma</output>tail"

	whole := NewExtract("<output>", "</output>", false)
	wholeOut := whole.Feed(sample)

	for width := 1; width <= len(sample); width++ {
		f := NewExtract("<output>", "</output>", false)
		got := feedChunked(f, sample, width)
		if got != wholeOut {
			t.Fatalf("width %d: visible = %q, want %q", width, got, wholeOut)
		}
		if !reflect.DeepEqual(f.Outputs(), whole.Outputs()) {
			t.Fatalf("width %d: outputs = %v, want %v", width, f.Outputs(), whole.Outputs())
		}
	}
}

func TestExtractRoundTrip(t *testing.T) {
	f := NewExtract("<s>", "</s>", false)
	f.Feed("<s>one</s>x<s>two</s>y<s></s>")

	want := []string{"one", "two", ""}
	if !reflect.DeepEqual(f.Outputs(), want) {
		t.Errorf("outputs = %v, want %v", f.Outputs(), want)
	}
}

func TestExtractHeaderBeforeEmptyOutput(t *testing.T) {
	// The enumeration header appears as soon as a region opens, even if
	// the region turns out to be empty.
	f := NewExtract("<s>", "</s>", true)
	got := f.Feed("<s>")
	if got != "1. " {
		t.Errorf("visible = %q, want %q", got, "1. ")
	}
}

func TestExtractPassthrough(t *testing.T) {
	f := NewExtract("", "", false)
	got := f.Feed("ab") + f.Feed("cd")
	if got != "abcd" {
		t.Errorf("visible = %q, want %q", got, "abcd")
	}
	if want := []string{"abcd"}; !reflect.DeepEqual(f.Outputs(), want) {
		t.Errorf("outputs = %v, want %v", f.Outputs(), want)
	}
}

func TestExtractPartialDelimiterAcrossChunks(t *testing.T) {
	f := NewExtract("<output>", "</output>", false)
	var out strings.Builder
	for _, chunk := range []string{"<ou", "tpu", "t>1", "</o", "utp", "ut>"} {
		out.WriteString(f.Feed(chunk))
	}
	if out.String() != "1" {
		t.Errorf("visible = %q, want %q", out.String(), "1")
	}
}

func TestHide(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		chunks int
		want   string
	}{
		{"single region", "a<think>secret</think>b", 1, "ab"},
		{"chunked", "a<think>secret</think>b", 2, "ab"},
		{"two regions", "0<s>1</s>2<s>3</s>4", 3, "024"},
		{"unclosed holds back", "a<think>never", 1, "a"},
		{"no regions", "plain text", 4, "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, stop := "<think>", "</think>"
			if strings.Contains(tt.input, "<s>") {
				start, stop = "<s>", "</s>"
			}
			f := NewHide(start, stop)
			var out strings.Builder
			for i := 0; i < len(tt.input); i += tt.chunks {
				end := i + tt.chunks
				if end > len(tt.input) {
					end = len(tt.input)
				}
				out.WriteString(f.Feed(tt.input[i:end]))
			}
			if out.String() != tt.want {
				t.Errorf("visible = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestHidePassthrough(t *testing.T) {
	f := NewHide("", "")
	if got := f.Feed("x<think>y"); got != "x<think>y" {
		t.Errorf("visible = %q, want input unchanged", got)
	}
}
