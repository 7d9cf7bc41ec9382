package handler

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const cursorPrefix = "job|"

// DecodeJobCursor returns the id a page continues below, or 0 for the first page
func DecodeJobCursor(cursorStr string) (int64, error) {
	if cursorStr == "" {
		return 0, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	s := string(decoded)
	if !strings.HasPrefix(s, cursorPrefix) {
		return 0, fmt.Errorf("invalid cursor format")
	}

	id, err := strconv.ParseInt(strings.TrimPrefix(s, cursorPrefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id in cursor")
	}

	return id, nil
}

// EncodeJobCursor builds the cursor for the page after the job with the given id
func EncodeJobCursor(lastID int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(lastID, 10)))
}
