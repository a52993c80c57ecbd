package prompt

import (
	"strings"
	"testing"
)

func TestBuildContextAlwaysHasSafetyPreamble(t *testing.T) {
	profiles := []string{"", "   ", `{"preferredName":"Li"}`, "not json at all"}
	for _, profile := range profiles {
		for _, first := range []bool{false, true} {
			for _, greeting := range []bool{false, true} {
				got := Build(profile, first, greeting)
				if !strings.HasPrefix(got, SafetyPreamble) {
					t.Fatalf("Build(%q, %v, %v) missing safety preamble prefix", profile, first, greeting)
				}
				if !strings.Contains(got, "MUST NOT provide medical diagnosis") {
					t.Fatalf("Build(%q, %v, %v) missing diagnosis guard", profile, first, greeting)
				}
				if !strings.Contains(got, "emergency services") {
					t.Fatalf("Build(%q, %v, %v) missing escalation line", profile, first, greeting)
				}
			}
		}
	}
}

func TestBuildContextProfileBlock(t *testing.T) {
	got := BuildContext("", Continuing)
	if !strings.Contains(got, ProfileNotProvided) {
		t.Fatalf("empty profile: missing %q", ProfileNotProvided)
	}

	got = BuildContext("  \n", Continuing)
	if !strings.Contains(got, ProfileNotProvided) {
		t.Fatalf("blank profile: missing %q", ProfileNotProvided)
	}

	profile := "{\"name\":\"Mei\",\n \"health\":\"diabetes\"}"
	got = BuildContext(profile, FirstTurn)
	if !strings.Contains(got, profile) {
		t.Fatalf("profile not embedded verbatim:\n%s", got)
	}
	if strings.Contains(got, ProfileNotProvided) {
		t.Fatalf("profile present but got not-provided marker")
	}
	if !strings.Contains(got, "Here is the user's profile in JSON:\n"+profile+"\n") {
		t.Fatalf("profile block missing explanatory prefix:\n%s", got)
	}
}

func TestBuildContextOrder(t *testing.T) {
	got := BuildContext(`{"a":1}`, Greeting)
	safety := strings.Index(got, "health check-in companion")
	profile := strings.Index(got, `{"a":1}`)
	instruction := strings.Index(got, "FIRST greeting")
	if !(safety >= 0 && safety < profile && profile < instruction) {
		t.Fatalf("unexpected section order: safety=%d profile=%d instruction=%d", safety, profile, instruction)
	}
}

func TestPositionFor(t *testing.T) {
	cases := []struct {
		first, greeting bool
		want            Position
	}{
		{false, false, Continuing},
		{true, false, FirstTurn},
		{false, true, Greeting},
		{true, true, Greeting},
	}
	for _, tc := range cases {
		if got := PositionFor(tc.first, tc.greeting); got != tc.want {
			t.Fatalf("PositionFor(%v, %v) = %v, want %v", tc.first, tc.greeting, got, tc.want)
		}
	}
}

func TestBuildContextInstructionPerPosition(t *testing.T) {
	cases := []struct {
		pos  Position
		want string
	}{
		{Greeting, "end with ONE simple question"},
		{FirstTurn, "after the greeting"},
		{Continuing, "This is NOT the first message"},
	}
	for _, tc := range cases {
		got := BuildContext("", tc.pos)
		if !strings.HasSuffix(got, "\n"+instructionFor(tc.pos)) {
			t.Fatalf("BuildContext(%v) does not end with its instruction", tc.pos)
		}
		if !strings.Contains(got, tc.want) {
			t.Fatalf("BuildContext(%v) missing %q", tc.pos, tc.want)
		}
	}
}

func TestBuildContextDeterministic(t *testing.T) {
	a := Build(`{"x":"y"}`, true, false)
	b := Build(`{"x":"y"}`, true, false)
	if a != b {
		t.Fatalf("Build not deterministic")
	}
}
