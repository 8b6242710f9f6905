package policy

import (
	"fmt"
	"os"

	"github.com/wolfeidau/repository-proxy/checksum"
)

// ApplyChecksum evaluates the checksum policy against a downloaded file and
// its side files.
func ApplyChecksum(opt Option, local string) error {
	switch opt {
	case Ignore:
		return nil
	case Fail, Fix:
	default:
		return fmt.Errorf("%w: %q for policy %s", ErrUnknownOption, opt, Checksum)
	}

	if _, err := os.Stat(local); err != nil {
		return nil
	}

	if opt == Fix {
		if err := checksum.Fix(local); err != nil {
			return &Violation{Policy: Checksum, Option: opt, Reason: "unable to fix checksums: " + err.Error()}
		}
		return nil
	}

	valid, err := checksum.IsValid(local)
	if err != nil {
		return &Violation{Policy: Checksum, Option: opt, Reason: "unable to verify checksums: " + err.Error()}
	}
	if valid {
		return nil
	}
	if err := checksum.Remove(local); err != nil {
		return &Violation{Policy: Checksum, Option: opt, Reason: "checksum mismatch, removal failed: " + err.Error()}
	}
	return &Violation{Policy: Checksum, Option: opt, Reason: "checksum mismatch, file removed"}
}
