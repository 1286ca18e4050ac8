package sync

import (
	"reflect"
	"testing"

	"github.com/inboxd/inboxd/internal/remote"
)

func TestLabelState(t *testing.T) {
	tests := []struct {
		name                          string
		labels                        []string
		wantUnread, wantStar, wantBox bool
	}{
		{"empty", nil, false, false, false},
		{"inbox unread", []string{remote.LabelInbox, remote.LabelUnread}, true, false, true},
		{"starred only", []string{remote.LabelStarred}, false, true, false},
		{"custom labels ignored", []string{"Label_42", "IMPORTANT"}, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unread, starred, inbox := labelState(tt.labels)
			if unread != tt.wantUnread || starred != tt.wantStar || inbox != tt.wantBox {
				t.Errorf("labelState(%v) = %v/%v/%v, want %v/%v/%v",
					tt.labels, unread, starred, inbox, tt.wantUnread, tt.wantStar, tt.wantBox)
			}
		})
	}
}

func TestAddLabels(t *testing.T) {
	current := []string{"INBOX", "UNREAD"}

	got := addLabels(current, []string{"STARRED", "UNREAD"})
	want := []string{"INBOX", "UNREAD", "STARRED"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("addLabels = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(current, []string{"INBOX", "UNREAD"}) {
		t.Errorf("addLabels mutated its input: %v", current)
	}
}

func TestRemoveLabels(t *testing.T) {
	current := []string{"INBOX", "UNREAD", "STARRED"}

	got := removeLabels(current, []string{"UNREAD", "MISSING"})
	want := []string{"INBOX", "STARRED"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("removeLabels = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(current, []string{"INBOX", "UNREAD", "STARRED"}) {
		t.Errorf("removeLabels mutated its input: %v", current)
	}
}
