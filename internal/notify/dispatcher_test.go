package notify_test

import (
	"reflect"
	"testing"

	"taskline/internal/notify"
)

func TestMentions(t *testing.T) {
	cases := []struct {
		content string
		want    []string
	}{
		{"no mentions here", nil},
		{"ping @alice", []string{"alice"}},
		{"@alice and @bob, also @alice again", []string{"alice", "bob"}},
		{"emails like x@example.com count the domain", []string{"example.com"}},
		{"@dotted.name and @under_score and @dash-ed", []string{"dotted.name", "under_score", "dash-ed"}},
		{"@", nil},
	}
	for _, tc := range cases {
		got := notify.Mentions(tc.content)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Mentions(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}
