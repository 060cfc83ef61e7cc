package layout

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFitDistributedSplitsThreadsAlongOrder(t *testing.T) {
	tests := []struct {
		name        string
		shape       []int64
		order       []int
		threads     int
		perLane     []int
		wantLanes   []int
		wantPerLane []int
	}{
		{
			name:  "vector",
			shape: []int64{1024}, order: []int{0}, threads: 128,
			wantLanes: []int{128}, wantPerLane: []int{1},
		},
		{
			name:  "vectorized rows",
			shape: []int64{32, 32}, order: []int{1, 0}, threads: 128, perLane: []int{1, 4},
			wantLanes: []int{16, 8}, wantPerLane: []int{1, 4},
		},
		{
			name:  "threads cover the shape exactly",
			shape: []int64{8, 8}, order: []int{1, 0}, threads: 64,
			wantLanes: []int{8, 8}, wantPerLane: []int{1, 1},
		},
		{
			name:  "remainder lands on the slowest dimension",
			shape: []int64{4, 4}, order: []int{1, 0}, threads: 64,
			wantLanes: []int{16, 4}, wantPerLane: []int{1, 1},
		},
		{
			name:  "single warp",
			shape: []int64{32, 32}, order: []int{1, 0}, threads: 32, perLane: []int{1, 4},
			wantLanes: []int{4, 8}, wantPerLane: []int{1, 4},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			d := FitDistributed(tc.shape, tc.order, tc.threads, tc.perLane)
			if diff := cmp.Diff(tc.wantLanes, d.Lanes); diff != "" {
				t.Errorf("lanes mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.wantPerLane, d.PerLane); diff != "" {
				t.Errorf("per-lane mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTilePerBlockMultipliesLanesAndRuns(t *testing.T) {
	d := FitDistributed([]int64{32, 32}, []int{1, 0}, 128, []int{1, 4})
	if d.TilePerBlock(0) != 16 || d.TilePerBlock(1) != 32 {
		t.Fatalf("per-block tiles %d, %d, want 16 and 32", d.TilePerBlock(0), d.TilePerBlock(1))
	}
}

func TestFitDistributedCopiesItsInputs(t *testing.T) {
	shape := []int64{16, 16}
	order := []int{1, 0}
	d := FitDistributed(shape, order, 32, nil)
	shape[0] = 99
	order[0] = 99
	if d.Shape[0] != 16 || d.Order[0] != 1 {
		t.Fatalf("descriptor aliases caller slices: shape %v order %v", d.Shape, d.Order)
	}
}
