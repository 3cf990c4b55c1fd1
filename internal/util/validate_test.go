package util

import "testing"

func TestValidatePhone(t *testing.T) {
	tests := []struct {
		name    string
		phone   string
		wantErr bool
	}{
		{"valid", "9876543210", false},
		{"too short", "987654321", true},
		{"too long", "98765432100", true},
		{"letters", "98765abcde", true},
		{"empty", "", true},
		{"spaces", "98765 4321", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePhone(tt.phone)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePhone(%q) error = %v, wantErr %v", tt.phone, err, tt.wantErr)
			}
		})
	}
}

func TestValidateOTPCode(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{"valid", "0042", false},
		{"too short", "123", true},
		{"too long", "12345", true},
		{"letters", "12ab", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOTPCode(tt.code)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOTPCode(%q) error = %v, wantErr %v", tt.code, err, tt.wantErr)
			}
		})
	}
}
