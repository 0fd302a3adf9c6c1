package util

import (
	"reflect"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "empty input",
			text: "",
			want: []string(nil),
		},
		{
			name: "single sentence",
			text: "Hello world.",
			want: []string{"Hello world."},
		},
		{
			name: "multiple sentences",
			text: "Hello world. This is a test! How are you?",
			want: []string{
				"Hello world.",
				"This is a test!",
				"How are you?",
			},
		},
		{
			name: "sentences with empty lines",
			text: "First sentence.\n\nSecond sentence.\n\nThird sentence.",
			want: []string{
				"First sentence.",
				"Second sentence.",
				"Third sentence.",
			},
		},
		{
			name: "multi-line sentence",
			text: "This is a long\nsentence that spans\nmultiple lines.",
			want: []string{"This is a long sentence that spans multiple lines."},
		},
		{
			name: "text with no punctuation",
			text: "Just some text without punctuation\nMore text here",
			want: []string{"Just some text without punctuation More text here"},
		},
		{
			name: "decimals stay in sentence",
			text: "Survival improved (p < 0.05). Toxicity was 1.5 fold higher.",
			want: []string{
				"Survival improved (p < 0.05).",
				"Toxicity was 1.5 fold higher.",
			},
		},
		{
			name: "abbreviations do not split",
			text: "Smith et al. reported TP53 loss, e.g. in breast cancer. It was rare.",
			want: []string{
				"Smith et al. reported TP53 loss, e.g. in breast cancer.",
				"It was rare.",
			},
		},
		{
			name: "numeric listing should stay in same sentence",
			text: "We tested three arms. 1. Placebo 2. Low dose 3. High dose. Done!",
			want: []string{
				"We tested three arms.",
				"1. Placebo 2. Low dose 3. High dose.",
				"Done!",
			},
		},
		{
			name: "years end sentences",
			text: "The cohort was recruited in 2019. Follow up continued.",
			want: []string{
				"The cohort was recruited in 2019.",
				"Follow up continued.",
			},
		},
		{
			name: "closing quotes and brackets stay attached",
			text: "He said \"stop.\" Then (it ended.) Fine.",
			want: []string{
				"He said \"stop.\"",
				"Then (it ended.)",
				"Fine.",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSentences(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("SplitSentences() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
