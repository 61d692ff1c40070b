package status_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/ncsync/uploadd/internal/status"
	"github.com/ncsync/uploadd/internal/watcher"
)

func fill(r *status.Recent, n int) {
	for i := 0; i < n; i++ {
		r.Add(watcher.Event{ID: fmt.Sprint(i), Path: fmt.Sprintf("/w/%d", i)})
	}
}

func ids(events []watcher.Event) string {
	s := ""
	for _, e := range events {
		s += e.ID + ","
	}
	return s
}

func TestRecent_Empty(t *testing.T) {
	r := status.NewRecent(4)
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
	if got := r.Last(0); len(got) != 0 {
		t.Errorf("Last(0) = %v, want empty", got)
	}
}

func TestRecent_DefaultSize(t *testing.T) {
	if got := status.NewRecent(0).Cap(); got != status.DefaultRecentSize {
		t.Errorf("Cap = %d, want %d", got, status.DefaultRecentSize)
	}
}

func TestRecent_Last(t *testing.T) {
	tests := []struct {
		name  string
		added int
		n     int
		want  string
	}{
		{"partial all", 3, 0, "0,1,2,"},
		{"partial limited", 3, 2, "1,2,"},
		{"limit above held", 2, 4, "0,1,"},
		{"exactly full", 4, 0, "0,1,2,3,"},
		{"wrapped all", 6, 0, "2,3,4,5,"},
		{"wrapped limited", 6, 3, "3,4,5,"},
		{"wrapped twice", 9, 0, "5,6,7,8,"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := status.NewRecent(4)
			fill(r, tc.added)
			if got := ids(r.Last(tc.n)); got != tc.want {
				t.Errorf("Last(%d) = %s, want %s", tc.n, got, tc.want)
			}
		})
	}
}

func TestRecent_HandleAdds(t *testing.T) {
	r := status.NewRecent(2)
	if err := r.Handle(context.Background(), watcher.Event{ID: "x"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if r.Len() != 1 || r.Last(1)[0].ID != "x" {
		t.Errorf("ring = %+v", r.Last(0))
	}
}
