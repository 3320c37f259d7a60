package services

import "testing"

func TestTagEnglishWords(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "latin words tagged",
			in:   "grand opening",
			want: "[en-us]{grand} [en-us]{opening}",
		},
		{
			name: "non-latin passes through",
			in:   "환영합니다",
			want: "환영합니다",
		},
		{
			name: "mixed text",
			in:   "오늘 sale 합니다",
			want: "오늘 [en-us]{sale} 합니다",
		},
		{
			name: "numbers untouched",
			in:   "50 2026",
			want: "50 2026",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TagEnglishWords(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
