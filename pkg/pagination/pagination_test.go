package pagination

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		name                    string
		limit, offset, defLimit int
		want                    Params
	}{
		{"defaults", 0, 0, 0, Params{Limit: DefaultLimit, Offset: 0}},
		{"caller default", 0, 0, 100, Params{Limit: 100, Offset: 0}},
		{"custom values", 50, 10, 100, Params{Limit: 50, Offset: 10}},
		{"max limit", 5000, 0, 100, Params{Limit: MaxLimit, Offset: 0}},
		{"negative limit", -5, 0, 0, Params{Limit: DefaultLimit, Offset: 0}},
		{"negative offset", 10, -3, 0, Params{Limit: 10, Offset: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.limit, tt.offset, tt.defLimit); got != tt.want {
				t.Errorf("New(%d, %d, %d) = %+v, want %+v", tt.limit, tt.offset, tt.defLimit, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	p := Params{Offset: 40}.Normalize(100)
	if p.Limit != 100 || p.Offset != 40 {
		t.Errorf("Normalize() = %+v", p)
	}
}

func TestParams_Offsets(t *testing.T) {
	p := Params{Limit: 20, Offset: 0}
	if p.HasPrevious() {
		t.Error("expected HasPrevious false at offset 0")
	}
	if p.NextOffset() != 20 {
		t.Errorf("expected next offset 20, got %d", p.NextOffset())
	}
	if p.PreviousOffset() != 0 {
		t.Errorf("expected previous offset 0, got %d", p.PreviousOffset())
	}

	p = Params{Limit: 20, Offset: 30}
	if !p.HasPrevious() {
		t.Error("expected HasPrevious true at offset 30")
	}
	if p.PreviousOffset() != 10 {
		t.Errorf("expected previous offset 10, got %d", p.PreviousOffset())
	}
}

func TestNewPage_Full(t *testing.T) {
	page := NewPage([]string{"a", "b"}, Params{Limit: 2, Offset: 4})
	if page.NextOffset == nil || *page.NextOffset != 6 {
		t.Errorf("expected next offset 6, got %v", page.NextOffset)
	}
	if page.Limit != 2 || page.Offset != 4 || len(page.Items) != 2 {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestNewPage_Partial(t *testing.T) {
	page := NewPage([]int{1}, Params{Limit: 20})
	if page.NextOffset != nil {
		t.Errorf("expected no next offset, got %d", *page.NextOffset)
	}
}

func TestNewPage_NilItems(t *testing.T) {
	page := NewPage[string](nil, Params{Limit: 20})
	if page.Items == nil {
		t.Error("expected empty, non-nil items")
	}
}
