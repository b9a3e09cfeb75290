package settlement

import "github.com/vaultnet/vaultd/logger"

var log = logger.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(l *logger.Logger) {
	log = l
}
