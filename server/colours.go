package server

// ANSI colors for the DEV route dump. Only the handful the dump uses.
const (
	ansiGreen   = "\033[32m"
	ansiYellow  = "\033[33m"
	ansiBlue    = "\033[34m"
	ansiMagenta = "\033[35m"
	ansiCyan    = "\033[36m"
	ansiGray    = "\033[90m"
	ansiReset   = "\033[0m"
)

var methodColors = map[string]string{
	"GET":    ansiGreen,
	"POST":   ansiBlue,
	"PUT":    ansiCyan,
	"DELETE": ansiYellow,
	"PATCH":  ansiMagenta,
}
