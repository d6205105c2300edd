package identity

import "testing"

func TestNormalizeDOI(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"10.1001/XYZ.123", "10.1001/xyz.123"},
		{"https://doi.org/10.1001/xyz.123", "10.1001/xyz.123"},
		{"http://dx.doi.org/10.1001/xyz.123", "10.1001/xyz.123"},
		{"doi:10.1001/xyz.123", "10.1001/xyz.123"},
		{"  10.1001/xyz.123  ", "10.1001/xyz.123"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeDOI(tc.in); got != tc.want {
			t.Errorf("NormalizeDOI(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Early MRI Findings in Multiple Sclerosis", "early mri findings in multiple sclerosis"},
		{"Guillain–Barré syndrome: a review", "guillain barre syndrome a review"},
		{"  Stroke,   outcomes & care!  ", "stroke outcomes care"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeTitle(tc.in); got != tc.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIdentityKeyRoundTrip(t *testing.T) {
	ids := []Identity{
		{Kind: KindDOI, Value: "10.1001/xyz.123"},
		{Kind: KindPMID, Value: "38012345"},
		{Kind: KindTitle, Value: "early mri findings in multiple sclerosis|2025"},
	}
	for _, id := range ids {
		got := ParseKey(id.Key())
		if got != id {
			t.Errorf("ParseKey(%q) = %+v, want %+v", id.Key(), got, id)
		}
	}
}

func TestTitleSimilarity(t *testing.T) {
	if got := TitleSimilarity("Early MRI Findings in Multiple Sclerosis", "early mri findings in multiple sclerosis"); got != 1 {
		t.Errorf("identical titles: got %v, want 1", got)
	}
	if got := TitleSimilarity("Early MRI Findings in Multiple Sclerosis", "Early MRI Findings in..."); got != 1 {
		t.Errorf("truncated prefix: got %v, want 1", got)
	}
	if got := TitleSimilarity("Early MRI Findings in Multiple Sclerosis", "Cardiac output in elite swimmers"); got >= 0.35 {
		t.Errorf("unrelated titles: got %v, want below threshold", got)
	}
}
