package logging

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/ce-dot-net/ace/internal/config"
)

// Secret logs whether a secret is set and its length, never its value.
func Secret(key string, val config.Secret) zap.Field {
	if !val.IsSet() {
		return zap.String(key, "")
	}
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val.Value()))+"]")
}
