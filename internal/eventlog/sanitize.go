package eventlog

import "regexp"

// secretPatterns match credentials that hypervisor error messages and
// URLs sometimes echo back.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`),
	regexp.MustCompile(`(?i)((?:token|password|secret|api_key)=)[^\s&"']+`),
	regexp.MustCompile(`(?i)(PVEAPIToken=)[^\s"']+`),
}

// Sanitize redacts credentials from msg before it is stored.
func Sanitize(msg string) string {
	for _, re := range secretPatterns {
		msg = re.ReplaceAllString(msg, "${1}<redacted>")
	}
	return msg
}
