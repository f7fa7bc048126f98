package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// command is a decoded FTP control line: an uppercased verb and its raw
// argument string (trimmed, but otherwise unparsed -- individual handlers
// parse further as needed, e.g. PORT's six-tuple).
type command struct {
	verb string
	arg  string
}

// decodeCommand splits a CRLF-stripped line into verb and argument on the
// first space, uppercasing the verb. An empty line decodes to an empty
// verb, which the dispatcher treats as a protocol error.
func decodeCommand(line string) command {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return command{}
	}
	if idx := strings.IndexByte(line, ' '); idx >= 0 {
		return command{verb: strings.ToUpper(line[:idx]), arg: strings.TrimSpace(line[idx+1:])}
	}
	return command{verb: strings.ToUpper(line)}
}

// encodeReply renders a three-digit reply code and message as a CRLF-
// terminated line. An empty message omits the trailing space.
func encodeReply(code int, msg string) string {
	if msg == "" {
		return fmt.Sprintf("%d\r\n", code)
	}
	return fmt.Sprintf("%d %s\r\n", code, msg)
}

// parsePORT decodes a PORT argument of the form "a,b,c,d,p1,p2" into an
// address and port, rejecting ports <= 1024 (the well-known range) the way
// the original FTP bounce-prevention logic does.
func parsePORT(arg string) (net.IP, int, error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return nil, 0, fmt.Errorf("codec: PORT expects 6 fields, got %d", len(parts))
	}
	nums := make([]int, 6)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return nil, 0, fmt.Errorf("codec: PORT field %q out of range", p)
		}
		nums[i] = n
	}
	ip := net.IPv4(byte(nums[0]), byte(nums[1]), byte(nums[2]), byte(nums[3]))
	port := nums[4]*256 + nums[5]
	if port <= 1024 {
		return nil, 0, fmt.Errorf("codec: PORT port %d must be > 1024", port)
	}
	return ip, port, nil
}

// formatPASV renders the (h1,h2,h3,h4,p1,p2) tuple PASV replies with.
func formatPASV(ip net.IP, port int) string {
	ip4 := ip.To4()
	return fmt.Sprintf("(%d,%d,%d,%d,%d,%d)", ip4[0], ip4[1], ip4[2], ip4[3], port/256, port%256)
}

// Result codes, per RFC 959 and the glossary in SPEC_FULL.md.
const (
	codeRestartMarker   = 110
	codeServiceReadyIn  = 120
	codeDataOpenOK      = 125
	codeFileStatusOK    = 150
	codeCommandOK       = 200
	codeNotImplemented  = 202
	codeSystemStatus    = 211
	codeDirStatus       = 212
	codeFileStatus      = 213
	codeHelpMessage     = 214
	codeSystemType      = 215
	codeServiceReady    = 220
	codeClosingControl  = 221
	codeDataConnOpen    = 225
	codeClosingData     = 226
	codeEnteringPassive = 227
	codeLoginSuccess    = 230
	codeFileActionOK    = 250
	codePathCreated     = 257
	codeNeedPassword    = 331
	codeNeedAccount     = 332
	codePendingFurther  = 350
	codeServiceNotAvail = 421
	codeCantOpenData    = 425
	codeConnClosedAbort = 426
	codeFileBusy        = 450
	codeLocalError      = 451
	codeInsuffStorage   = 452
	codeSyntaxError     = 500
	codeSyntaxErrorArgs = 501
	codeNotImplCmd      = 502
	codeBadSequence     = 503
	codeNotImplParam    = 504
	codeNotLoggedIn     = 530
	codeNeedAccountStor = 532
	codeActionNotTaken  = 550
	codePageTypeUnknown = 551
	codeExceededQuota   = 552
	codeNameNotAllowed  = 553
)
