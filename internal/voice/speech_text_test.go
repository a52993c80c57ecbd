package voice

import "testing"

func TestSpeakableText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops emoji and markdown markers",
			in:   "Sure 😊 **let's** do this / now.",
			want: "Sure let's do this now.",
		},
		{
			name: "keeps markdown link label and removes url",
			in:   "Read [the tips](https://example.com/tips) first.",
			want: "Read the tips first.",
		},
		{
			name: "removes code blocks and inline code",
			in:   "```bash\nnpm run dev\n```\nThen run `make test` ✅",
			want: "Then run",
		},
		{
			name: "normalizes odd punctuation spacing",
			in:   "Hello***world///again",
			want: "Hello world again",
		},
		{
			name: "strips list markers",
			in:   "Try this:\n- drink water\n2. take a walk",
			want: "Try this: drink water take a walk",
		},
		{
			name: "keeps cjk sentence punctuation",
			in:   "你好，今天感觉怎么样？",
			want: "你好，今天感觉怎么样？",
		},
		{
			name: "spells ampersand",
			in:   "Rest & hydrate.",
			want: "Rest and hydrate.",
		},
		{
			name: "reads blood pressure",
			in:   "Your blood pressure was 120/80 mmHg.",
			want: "Your blood pressure was 120 over 80.",
		},
		{
			name: "reads doses and temperatures",
			in:   "Take 500mg with food if it stays at 38.5°C.",
			want: "Take 500 milligrams with food if it stays at 38.5 degrees Celsius.",
		},
		{
			name: "reads pulse and percentages",
			in:   "72 BPM is fine, and sleep was 40% better.",
			want: "72 beats per minute is fine, and sleep was 40 percent better.",
		},
		{
			name: "drops emoji joiners",
			in:   "Well done 👍🏽‍️ today",
			want: "Well done today",
		},
		{
			name: "empty",
			in:   "   ",
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := speakableText(tc.in)
			if got != tc.want {
				t.Fatalf("speakableText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
