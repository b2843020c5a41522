package log

import (
	"os"

	"github.com/rs/zerolog"
)

//
var Log zerolog.Logger

func SetLevelDebug() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}
func SetLevelInfo() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

}
func SetLevelError() {
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
}

// UseConsoleWriter switches to human readable output for the interactive tools.
func UseConsoleWriter() {
	Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	Log = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
