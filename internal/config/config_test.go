package config

import "testing"

func TestValidateNumVFs(t *testing.T) {
	tests := []struct {
		name    string
		numVFs  int
		wantErr bool
	}{
		{"two", 2, false},
		{"four", 4, false},
		{"eight", 8, false},
		{"sixteen", 16, false},
		{"zero", 0, true},
		{"three", 3, true},
		{"thirtytwo", 32, true},
		{"negative", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(Raw{LogLevel: 6, EngSel: "0xAAAAAAAA", NumVFs: tt.numVFs})
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateEngSel(t *testing.T) {
	cfg, err := Validate(Raw{LogLevel: 6, EngSel: "0xDEADBEEF", NumVFs: 4})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.EngSel != 0xDEADBEEF {
		t.Errorf("EngSel = %#x, want 0xdeadbeef", cfg.EngSel)
	}
}

func TestValidateLogLevel(t *testing.T) {
	if _, err := Validate(Raw{LogLevel: 8, EngSel: "0xAAAAAAAA", NumVFs: 4}); err == nil {
		t.Error("expected error for log level 8")
	}
	if _, err := Validate(Raw{LogLevel: -1, EngSel: "0xAAAAAAAA", NumVFs: 4}); err == nil {
		t.Error("expected error for log level -1")
	}
}

func TestValidateVFToken(t *testing.T) {
	const token = "550e8400-e29b-41d4-a716-446655440000"
	cfg, err := Validate(Raw{LogLevel: 6, EngSel: "0xAAAAAAAA", NumVFs: 4, VFToken: token})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.VFToken[0] != 0x55 || cfg.VFToken[1] != 0x0e {
		t.Errorf("VFToken not decoded correctly: %x", cfg.VFToken)
	}

	if _, err := Validate(Raw{LogLevel: 6, EngSel: "0xAAAAAAAA", NumVFs: 4, VFToken: "not-a-uuid"}); err == nil {
		t.Error("expected error for malformed UUID")
	}
}
