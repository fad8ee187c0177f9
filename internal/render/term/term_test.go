package term

import (
	"context"
	"strings"
	"testing"

	"livechart/internal/model"
)

func TestGrid_PlacesCorners(t *testing.T) {
	f := model.Frame{
		X: model.Range{Min: 0, Max: 10},
		Y: model.Range{Min: 0, Max: 1},
		Series: []model.SeriesFrame{
			{Name: "line", Kind: model.KindLine, Samples: []model.Sample{{X: 0, Y: 1}, {X: 10, Y: 0}}},
		},
	}
	g := Grid(f, 11, 5)

	if g[0][0] != cellLine {
		t.Errorf("top-left = %q, want line", g[0][0])
	}
	if g[4][10] != cellLine {
		t.Errorf("bottom-right = %q, want line", g[4][10])
	}
	if g[2][5] != cellEmpty {
		t.Errorf("middle = %q, want empty", g[2][5])
	}
}

func TestGrid_ClipsOutsideVisibleRange(t *testing.T) {
	f := model.Frame{
		X: model.Range{Min: 5, Max: 6},
		Y: model.Range{Min: 0, Max: 1},
		Series: []model.SeriesFrame{
			{Name: "s", Kind: model.KindScatter, Samples: []model.Sample{{X: 1, Y: 0.5}, {X: 5.5, Y: 2}}},
		},
	}
	for _, row := range Grid(f, 10, 4) {
		for _, ch := range row {
			if ch != cellEmpty {
				t.Fatalf("expected clipped grid, found %q", ch)
			}
		}
	}
}

func TestGrid_MarkersAndScatter(t *testing.T) {
	f := model.Frame{
		X: model.Range{Min: 0, Max: 4},
		Y: model.Range{Min: -1, Max: 1},
		Series: []model.SeriesFrame{
			{Name: "scatter", Kind: model.KindScatter, Samples: []model.Sample{{X: 2, Y: 1}}},
		},
		Markers: []model.Marker{{ID: 2, X: 2, Text: "2"}},
	}
	g := Grid(f, 5, 3)
	if g[0][2] != cellScatter {
		t.Errorf("sample should draw over the marker column, got %q", g[0][2])
	}
	if g[1][2] != cellMarker || g[2][2] != cellMarker {
		t.Errorf("marker column = %q %q", g[1][2], g[2][2])
	}
}

func TestGrid_ZeroWidthRange(t *testing.T) {
	f := model.Frame{
		X: model.Range{Min: 3, Max: 3},
		Y: model.Range{Min: 7, Max: 7},
		Series: []model.SeriesFrame{
			{Name: "one", Samples: []model.Sample{{X: 3, Y: 7}}},
		},
	}
	g := Grid(f, 9, 5)
	if g[2][4] != cellLine {
		t.Errorf("single sample should sit in the centre, got %q", g[2][4])
	}
}

func TestRender_IncludesTitleAndLegend(t *testing.T) {
	f := model.Frame{
		Surface: "tutorial",
		Seq:     12,
		X:       model.Range{Min: 0, Max: 100},
		Y:       model.Range{Min: -1, Max: 1},
		Series: []model.SeriesFrame{
			{Name: "line", Kind: model.KindLine, Samples: []model.Sample{{X: 1, Y: 0}}},
			{Name: "scatter", Kind: model.KindScatter},
		},
		Markers: []model.Marker{{ID: 100, X: 100, Text: "100"}},
	}
	out := Render(f, 80, 20)
	for _, want := range []string{"tutorial", "#12", "line (1)", "scatter (0)", "100"} {
		if !strings.Contains(out, want) {
			t.Errorf("render output missing %q", want)
		}
	}
}

func TestRenderer_KeepsLatest(t *testing.T) {
	r := NewRenderer()
	seen := 0
	r.OnFrame = func(model.Frame) { seen++ }

	r.Render(context.Background(), model.Frame{Surface: "a", Seq: 1})
	r.Render(context.Background(), model.Frame{Surface: "a", Seq: 2})

	f, ok := r.Latest("a")
	if !ok || f.Seq != 2 {
		t.Errorf("Latest = %+v, %v", f, ok)
	}
	if _, ok := r.Latest("b"); ok {
		t.Error("unexpected frame for b")
	}
	if seen != 2 {
		t.Errorf("OnFrame called %d times", seen)
	}
}
