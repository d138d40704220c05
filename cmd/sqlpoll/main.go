// Command sqlpoll polls a SQL database for new rows and forwards them to
// a sink.
package main

import (
	"os"

	"github.com/koustreak/sqlpoll/internal/logger"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("sqlpoll failed", err)
		os.Exit(1)
	}
}
