package util

import "fmt"

// ValidatePhone checks the 10-digit mobile number shape enforced at the
// transport boundary. The core receives phone numbers already validated.
func ValidatePhone(phone string) error {
	if len(phone) != 10 {
		return fmt.Errorf("mobile number must be exactly 10 digits long")
	}
	if !isDigits(phone) {
		return fmt.Errorf("mobile number must contain only digits")
	}
	return nil
}

// ValidateOTPCode checks the 4-digit code shape.
func ValidateOTPCode(code string) error {
	if len(code) != 4 {
		return fmt.Errorf("OTP must be exactly 4 digits long")
	}
	if !isDigits(code) {
		return fmt.Errorf("OTP must contain only digits")
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
