package geo

import (
	"testing"
)

func TestParsePoint(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantLat float64
		wantLng float64
		wantErr bool
	}{
		{
			name:    "Simple Pair",
			line:    "35.6586,139.7454",
			wantLat: 35.6586,
			wantLng: 139.7454,
		},
		{
			name:    "Whitespace",
			line:    "  35.6586 , 139.7454  ",
			wantLat: 35.6586,
			wantLng: 139.7454,
		},
		{
			name:    "Negative Coordinates",
			line:    "-33.8568,-70.6483",
			wantLat: -33.8568,
			wantLng: -70.6483,
		},
		{
			name:    "Not A Pair",
			line:    "Tokyo Tower",
			wantErr: true,
		},
		{
			name:    "Missing Longitude",
			line:    "35.6586,",
			wantErr: true,
		},
		{
			name:    "Three Components",
			line:    "35.6,139.7,12",
			wantErr: true,
		},
		{
			name:    "Latitude Out Of Range",
			line:    "91.0,139.7",
			wantErr: true,
		},
		{
			name:    "Longitude Out Of Range",
			line:    "35.6,181.0",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pt, err := ParsePoint(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePoint(%q) expected error, got %v", tt.line, pt)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePoint(%q) unexpected error: %v", tt.line, err)
			}
			if pt.Lat() != tt.wantLat || pt.Lon() != tt.wantLng {
				t.Errorf("ParsePoint(%q) = (%v, %v), want (%v, %v)", tt.line, pt.Lat(), pt.Lon(), tt.wantLat, tt.wantLng)
			}
		})
	}
}

func TestPointOrder(t *testing.T) {
	pt := Point(35.6586, 139.7454)
	if pt.Lat() != 35.6586 {
		t.Errorf("Lat() = %v, want 35.6586", pt.Lat())
	}
	if pt.Lon() != 139.7454 {
		t.Errorf("Lon() = %v, want 139.7454", pt.Lon())
	}
}
