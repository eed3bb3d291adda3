package sriov

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		n       int
		wantErr bool
	}{
		{2, false}, {4, false}, {8, false}, {16, false},
		{1, true}, {3, true}, {32, true}, {0, true},
	}
	for _, tt := range tests {
		if err := validate(tt.n); (err != nil) != tt.wantErr {
			t.Errorf("validate(%d) error = %v, wantErr %v", tt.n, err, tt.wantErr)
		}
	}
}

func TestMaxQPerVFComputation(t *testing.T) {
	tests := map[int]int{2: 16, 4: 8, 8: 4, 16: 2}
	for numVFs, want := range tests {
		if got := MaxQueues / numVFs; got != want {
			t.Errorf("MaxQueues/%d = %d, want %d", numVFs, got, want)
		}
	}
}
