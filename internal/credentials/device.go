package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// DeviceID returns the identifier stored at path, creating one on first use.
func DeviceID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id := uuid.NewString()
	if err := writeFileAtomic(path, []byte(id+"\n")); err != nil {
		return "", fmt.Errorf("store device id: %w", err)
	}
	return id, nil
}
