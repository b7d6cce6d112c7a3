package cache

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateKeyWithParams creates a cache key with multiple parameters.
func GenerateKeyWithParams(prefix string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, param := range params {
		fmt.Fprintf(&b, ":%v", param)
	}
	return b.String()
}

// ownerToken identifies one cache instance as a lock holder.
func ownerToken() string {
	return uuid.NewString()
}
