package compact

import "testing"

func TestWindows(t *testing.T) {
	tests := []struct {
		name  string
		from  int64
		to    int64
		width int64
		want  []Window
	}{
		{
			name: "even split",
			from: 0, to: 3000, width: 1000,
			want: []Window{{0, 1000}, {1000, 2000}, {2000, 3000}},
		},
		{
			name: "truncated tail",
			from: 0, to: 2500, width: 1000,
			want: []Window{{0, 1000}, {1000, 2000}, {2000, 2500}},
		},
		{
			name: "single window wider than range",
			from: 100, to: 200, width: 1000,
			want: []Window{{100, 200}},
		},
		{
			name: "zero width takes whole range",
			from: 100, to: 200, width: 0,
			want: []Window{{100, 200}},
		},
		{
			name: "empty range",
			from: 200, to: 200, width: 100,
			want: nil,
		},
		{
			name: "inverted range",
			from: 300, to: 200, width: 100,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Windows(tt.from, tt.to, tt.width)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("windows[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// Adjacent windows must tile the range exactly: no gaps, no overlap.
func TestWindowsTile(t *testing.T) {
	windows := Windows(17, 9999, 250)
	if windows[0].From != 17 {
		t.Errorf("first window starts at %d, want 17", windows[0].From)
	}
	if windows[len(windows)-1].To != 9999 {
		t.Errorf("last window ends at %d, want 9999", windows[len(windows)-1].To)
	}
	for i := 1; i < len(windows); i++ {
		if windows[i].From != windows[i-1].To {
			t.Errorf("window %d starts at %d, previous ended at %d", i, windows[i].From, windows[i-1].To)
		}
	}
}
