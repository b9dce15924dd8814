package utils

import (
	"strconv"
	"time"

	random "github.com/mazen160/go-random"
)

// CacheBuster returns a fresh random token for the marketplace's randStr
// query parameter.
func CacheBuster() string {
	s, err := random.String(12)
	if err != nil || s == "" {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return s
}
