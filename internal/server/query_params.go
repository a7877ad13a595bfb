package server

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
)

func parseID(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty id", ErrInvalidRequest)
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidRequest, raw)
	}
	return id, nil
}

func parseInt64(raw string, def int64) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidRequest, raw)
	}
	return value, nil
}

func parseLimit(raw string, def, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%w: limit %s", ErrInvalidRequest, raw)
	}
	if value > max {
		value = max
	}
	return value, nil
}
